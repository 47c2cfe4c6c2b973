package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrInvalidStorageSettings = errors.New("invalid storage settings")

// StorageSettings are the limits that can be changed while the server runs.
type StorageSettings struct {
	MaxSessions      int   `json:"maxSessions"`
	MemoryLimitBytes int64 `json:"memoryLimitBytes"`
}

type StorageUsage struct {
	DataDir               string    `json:"dataDir"`
	DataDirExists         bool      `json:"dataDirExists"`
	DataDirSizeBytes      int64     `json:"dataDirSizeBytes"`
	DataDirAllocatedBytes int64     `json:"dataDirAllocatedBytes"`
	ScannedAt             time.Time `json:"scannedAt"`
}

type StorageSettingsView struct {
	StorageMode      string       `json:"storageMode"`
	MaxSessions      int          `json:"maxSessions"`
	MemoryLimitBytes int64        `json:"memoryLimitBytes"`
	Usage            StorageUsage `json:"usage"`
}

// StorageSettingsRuntime is the engine side of the settings.
type StorageSettingsRuntime interface {
	MaxSessions() int
	SetMaxSessions(limit int)
	MemoryLimitBytes() int64
	SetMemoryLimitBytes(limit int64)
}

type StorageSettingsManager struct {
	mu          sync.RWMutex
	runtime     StorageSettingsRuntime
	dataDir     string
	storageMode string
	settings    StorageSettings
}

func NewStorageSettingsManager(
	dataDir string,
	storageMode string,
	initial StorageSettings,
	runtime StorageSettingsRuntime,
) *StorageSettingsManager {
	if dataDir != "" {
		dataDir = filepath.Clean(dataDir)
	}
	return &StorageSettingsManager{
		runtime:     runtime,
		dataDir:     dataDir,
		storageMode: storageMode,
		settings:    initial,
	}
}

func (m *StorageSettingsManager) Get() StorageSettingsView {
	m.mu.RLock()
	current := m.settings
	dataDir := m.dataDir
	m.mu.RUnlock()

	if m.runtime != nil {
		current.MaxSessions = m.runtime.MaxSessions()
		current.MemoryLimitBytes = m.runtime.MemoryLimitBytes()
	}

	return StorageSettingsView{
		StorageMode:      m.storageMode,
		MaxSessions:      current.MaxSessions,
		MemoryLimitBytes: current.MemoryLimitBytes,
		Usage:            scanStorageUsage(dataDir),
	}
}

func (m *StorageSettingsManager) Update(next StorageSettings) error {
	if next.MaxSessions < 0 || next.MemoryLimitBytes < 0 {
		return ErrInvalidStorageSettings
	}

	m.mu.Lock()
	prev := m.settings
	m.settings = next
	m.mu.Unlock()

	if m.runtime == nil {
		return nil
	}
	if next.MaxSessions != prev.MaxSessions {
		m.runtime.SetMaxSessions(next.MaxSessions)
	}
	if next.MemoryLimitBytes != prev.MemoryLimitBytes {
		m.runtime.SetMemoryLimitBytes(next.MemoryLimitBytes)
	}
	return nil
}

func scanStorageUsage(dataDir string) StorageUsage {
	usage := StorageUsage{
		DataDir:   dataDir,
		ScannedAt: time.Now().UTC(),
	}
	if dataDir == "" {
		return usage
	}

	info, err := os.Stat(dataDir)
	if err != nil || !info.IsDir() {
		return usage
	}
	usage.DataDirExists = true

	var total, allocated int64
	_ = filepath.WalkDir(dataDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		fileInfo, err := d.Info()
		if err != nil {
			return nil
		}
		total += fileInfo.Size()
		allocated += diskBytes(fileInfo)
		return nil
	})
	usage.DataDirSizeBytes = total
	usage.DataDirAllocatedBytes = allocated
	return usage
}
