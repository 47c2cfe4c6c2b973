package memory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func WithSpillDir(dir string) ProviderOption {
	return func(p *Provider) {
		trimmed := strings.TrimSpace(dir)
		if trimmed == "" {
			return
		}
		cleaned := filepath.Clean(trimmed)
		if abs, err := filepath.Abs(cleaned); err == nil {
			cleaned = abs
		}
		p.spillDir = cleaned
	}
}

func (p *Provider) SpillToDisk() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spillDir != ""
}

// loadSpilled registers blobs left in the spill directory by an earlier run
// so previously downloaded pieces can be verified and resumed.
func (p *Provider) loadSpilled() {
	base := filepath.Clean(p.spillDir)
	_ = filepath.Walk(base, func(fp string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(base, fp)
		if relErr != nil {
			return nil
		}
		p.blobs[filepath.ToSlash(rel)] = &blob{
			size:   info.Size(),
			mod:    info.ModTime(),
			onDisk: true,
		}
		return nil
	})
}

func (p *Provider) spillLocked(name string, b *blob) error {
	fp, err := p.spillPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(fp, b.data, 0o644); err != nil {
		return err
	}
	p.curBytes -= int64(len(b.data))
	b.size = int64(len(b.data))
	b.data = nil
	b.onDisk = true
	b.mod = time.Now().UTC()
	return nil
}

func (p *Provider) writeSpilledAtLocked(name string, b *blob, src []byte, off int64) (int, error) {
	fp, err := p.spillPath(name)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := f.WriteAt(src, off)
	if end := off + int64(n); end > b.size {
		b.size = end
	}
	b.mod = time.Now().UTC()
	return n, err
}

func (p *Provider) readSpilled(name string) ([]byte, error) {
	fp, err := p.spillPath(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(fp)
}

func (p *Provider) readSpilledAt(name string, dst []byte, off int64) (int, error) {
	fp, err := p.spillPath(name)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(fp)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(dst, off)
}

func (p *Provider) removeSpilledLocked(name string) {
	fp, err := p.spillPath(name)
	if err != nil {
		return
	}
	_ = os.Remove(fp)
}

func (p *Provider) spillPath(name string) (string, error) {
	if p.spillDir == "" {
		return "", errors.New("spill directory is not configured")
	}
	base := filepath.Clean(p.spillDir)
	candidate := filepath.Clean(filepath.Join(base, filepath.FromSlash(name)))
	if candidate != base && !strings.HasPrefix(candidate, base+string(os.PathSeparator)) {
		return "", errors.New("invalid spill path")
	}
	return candidate, nil
}
