package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
	"webtorrent/internal/metrics"
	"webtorrent/internal/storage/memory"
)

// ErrSessionLimitReached is returned when the maximum number of torrents is
// open and none can be evicted because every one has a stream open.
var ErrSessionLimitReached = errors.New("session limit reached")

const (
	StorageDisk   = "disk"
	StorageMemory = "memory"
)

const defaultPollInterval = time.Second

type Config struct {
	DataDir     string
	StorageMode string
	// MemoryLimitBytes caps piece data held in memory storage mode.
	MemoryLimitBytes int64
	MemorySpillDir   string
	MaxSessions      int // 0 = unlimited
	ReadaheadBytes   int64
	PollInterval     time.Duration
	Logger           *slog.Logger
}

// Engine owns the anacrolix client and, per torrent, the Store adapter and
// the File list built over it.
type Engine struct {
	client    *torrent.Client
	memory    *memory.Provider // nil in disk mode
	logger    *slog.Logger
	readahead int64

	mu          sync.RWMutex
	sessions    map[domain.TorrentID]*session
	lastAccess  map[domain.TorrentID]time.Time
	maxSessions int

	speedMu sync.Mutex
	speeds  map[domain.TorrentID]speedSample

	pollInterval time.Duration
	pollCancel   context.CancelFunc
	pollDone     chan struct{}
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var provider *memory.Provider
	switch cfg.StorageMode {
	case "", StorageDisk:
	case StorageMemory:
		backend := newPieceStorage(logger)
		provider = memory.NewProvider(
			memory.WithMaxBytes(cfg.MemoryLimitBytes),
			memory.WithSpillDir(cfg.MemorySpillDir),
			memory.WithEvictHook(backend.evicted),
		)
		backend.provider = provider
		clientConfig.DefaultStorage = backend
	default:
		return nil, fmt.Errorf("%w: storage mode %q", domain.ErrUnsupported, cfg.StorageMode)
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	e := newEngine(client, cfg, logger)
	e.memory = provider
	e.startPolling()
	return e, nil
}

func NewWithClient(client *torrent.Client) *Engine {
	return newEngine(client, Config{}, slog.Default())
}

func newEngine(client *torrent.Client, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Engine{
		client:       client,
		logger:       logger,
		readahead:    cfg.ReadaheadBytes,
		sessions:     make(map[domain.TorrentID]*session),
		lastAccess:   make(map[domain.TorrentID]time.Time),
		maxSessions:  cfg.MaxSessions,
		speeds:       make(map[domain.TorrentID]speedSample),
		pollInterval: interval,
	}
}

// addMagnetTimeout caps the time we wait for the anacrolix client to accept
// a magnet link. AddMagnet can block on an internal client mutex while the
// client is busy.
const (
	addMagnetTimeout    = 10 * time.Second
	infoWaitTimeout     = 5 * time.Second
	metadataWaitTimeout = 10 * time.Minute
)

func (e *Engine) Open(ctx context.Context, src domain.TorrentSource) (domain.TorrentID, error) {
	if e.client == nil {
		return "", errors.New("torrent client not configured")
	}
	if src.Magnet == "" && src.Torrent == "" {
		return "", errors.New("magnet or torrent path required")
	}

	// Add with a timeout so a busy client never blocks the caller
	// indefinitely.
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		var t *torrent.Torrent
		var err error
		if src.Magnet != "" {
			t, err = e.client.AddMagnet(src.Magnet)
		} else {
			t, err = e.client.AddTorrentFromFile(src.Torrent)
		}
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		// The add may still complete after we return; drop the orphan.
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return "", errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return "", ctx.Err()
	}

	id := domain.TorrentID(t.InfoHash().HexString())

	e.mu.Lock()
	if _, exists := e.sessions[id]; exists {
		e.lastAccess[id] = time.Now().UTC()
		e.mu.Unlock()
		return id, nil
	}

	var evicted *session
	if e.maxSessions > 0 && len(e.sessions) >= e.maxSessions {
		s, err := e.evictIdleSessionLocked()
		if err != nil {
			e.mu.Unlock()
			t.Drop()
			return "", err
		}
		evicted = s
	}

	s := &session{id: id, t: t}
	e.sessions[id] = s
	e.lastAccess[id] = time.Now().UTC()
	metrics.ActiveTorrents.Set(float64(len(e.sessions)))
	e.mu.Unlock()

	if evicted != nil {
		e.logger.Info("evicting idle torrent", slog.String("torrentId", string(evicted.id)))
		e.forgetSpeed(evicted.id)
		evicted.close()
	}

	// Give the metadata a moment so the common case returns with files.
	shortCtx, cancel := context.WithTimeout(ctx, infoWaitTimeout)
	defer cancel()
	select {
	case <-t.GotInfo():
		e.load(s)
	case <-shortCtx.Done():
		go e.waitForInfo(s)
	}

	e.logger.Info("torrent opened", slog.String("torrentId", string(id)))
	return id, nil
}

// waitForInfo loads the session once metadata arrives, or drops the torrent
// if it never does.
func (e *Engine) waitForInfo(s *session) {
	select {
	case <-s.t.GotInfo():
		e.load(s)
	case <-s.t.Closed():
	case <-time.After(metadataWaitTimeout):
		e.logger.Warn("metadata never arrived, dropping torrent",
			slog.String("torrentId", string(s.id)),
			slog.Duration("timeout", metadataWaitTimeout),
		)
		_ = e.Remove(context.Background(), s.id)
	}
}

// load builds the Store and File list once the torrent's info is known and
// selects every file, so the whole torrent downloads unless deselected.
func (e *Engine) load(s *session) {
	store := newStore(torrentHandle{t: s.t}, s.id, e.readahead, e.logger)
	files, err := buildFiles(store, mapFiles(s.t), e.logger)
	if err != nil {
		e.logger.Error("invalid torrent geometry",
			slog.String("torrentId", string(s.id)),
			slog.String("error", err.Error()),
		)
		return
	}
	if !s.setLoaded(store, files) {
		return
	}
	for _, f := range files {
		f.Select(false)
	}
	e.logger.Info("torrent ready",
		slog.String("torrentId", string(s.id)),
		slog.Int("files", len(files)),
		slog.Int("numPieces", store.NumPieces()),
	)
}

func (e *Engine) Close() error {
	if e.pollCancel != nil {
		e.pollCancel()
		<-e.pollDone
	}

	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[domain.TorrentID]*session)
	e.lastAccess = make(map[domain.TorrentID]time.Time)
	e.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	metrics.ActiveTorrents.Set(0)

	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

func (e *Engine) MaxSessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxSessions
}

// SetMaxSessions changes the torrent limit for later Opens; torrents already
// open stay open.
func (e *Engine) SetMaxSessions(limit int) {
	e.mu.Lock()
	e.maxSessions = max(limit, 0)
	e.mu.Unlock()
}

// MemoryLimitBytes is the memory storage budget, 0 in disk mode or when
// unlimited.
func (e *Engine) MemoryLimitBytes() int64 {
	if e.memory == nil {
		return 0
	}
	return e.memory.MaxBytes()
}

func (e *Engine) SetMemoryLimitBytes(limit int64) {
	if e.memory == nil {
		return
	}
	e.memory.SetMaxBytes(limit)
}

func (e *Engine) ListTorrents(ctx context.Context) ([]domain.TorrentID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]domain.TorrentID, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (e *Engine) GetTorrentState(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error) {
	s, err := e.getSession(id)
	if err != nil {
		return domain.TorrentState{}, err
	}
	e.touchLastAccess(id)

	state := domain.TorrentState{ID: id, Name: s.t.Name()}
	store, files, ok := s.loaded()
	if !ok {
		return state, nil
	}

	state.Ready = true
	state.NumPieces = store.NumPieces()
	state.TotalBytes = s.t.Length()
	state.DoneBytes = s.t.BytesCompleted()
	state.DownloadSpeed, state.UploadSpeed = e.sampleSpeed(id, s.t.Stats(), time.Now().UTC())
	state.Files = make([]domain.FileState, 0, len(files))
	for _, f := range files {
		state.Files = append(state.Files, f.State())
	}
	return state, nil
}

// Files returns the torrent's files, or none while its metadata is pending.
func (e *Engine) Files(ctx context.Context, id domain.TorrentID) ([]ports.File, error) {
	s, err := e.getSession(id)
	if err != nil {
		return nil, err
	}
	e.touchLastAccess(id)

	_, files, ok := s.loaded()
	if !ok {
		return nil, nil
	}
	out := make([]ports.File, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	return out, nil
}

// Remove destroys every File of the torrent, then drops it.
func (e *Engine) Remove(ctx context.Context, id domain.TorrentID) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	if !ok {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(e.sessions, id)
	delete(e.lastAccess, id)
	metrics.ActiveTorrents.Set(float64(len(e.sessions)))
	e.mu.Unlock()

	e.forgetSpeed(id)
	s.close()
	freeOSMemory()
	e.logger.Info("torrent removed", slog.String("torrentId", string(id)))
	return nil
}

func (e *Engine) getSession(id domain.TorrentID) (*session, error) {
	e.mu.RLock()
	s := e.sessions[id]
	e.mu.RUnlock()
	if s == nil {
		return nil, domain.ErrNotFound
	}
	select {
	case <-s.t.Closed():
		_ = e.Remove(context.Background(), id)
		return nil, domain.ErrNotFound
	default:
		return s, nil
	}
}

func (e *Engine) touchLastAccess(id domain.TorrentID) {
	e.mu.Lock()
	if _, ok := e.sessions[id]; ok {
		e.lastAccess[id] = time.Now().UTC()
	}
	e.mu.Unlock()
}

// evictIdleSessionLocked removes the least recently used torrent that has no
// stream open. Caller must hold e.mu and close the returned session after
// unlocking.
func (e *Engine) evictIdleSessionLocked() (*session, error) {
	var evictID domain.TorrentID
	var evictTime time.Time
	found := false

	for id, s := range e.sessions {
		if s.streams() > 0 {
			continue
		}
		accessed := e.lastAccess[id]
		if !found || accessed.Before(evictTime) {
			evictID = id
			evictTime = accessed
			found = true
		}
	}
	if !found {
		return nil, ErrSessionLimitReached
	}

	s := e.sessions[evictID]
	delete(e.sessions, evictID)
	delete(e.lastAccess, evictID)
	return s, nil
}

// freeOSMemory returns memory to the OS promptly after a torrent is dropped;
// piece data can be large and the GC may otherwise sit on it.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

func (e *Engine) sampleSpeed(id domain.TorrentID, stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[id]
	e.speeds[id] = speedSample{
		at:           now,
		bytesRead:    currentRead,
		bytesWritten: currentWritten,
	}
	if !ok || prev.at.IsZero() {
		return 0, 0
	}

	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}
	deltaRead := max(currentRead-prev.bytesRead, 0)
	deltaWritten := max(currentWritten-prev.bytesWritten, 0)
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

func (e *Engine) forgetSpeed(id domain.TorrentID) {
	e.speedMu.Lock()
	delete(e.speeds, id)
	e.speedMu.Unlock()
}

var _ ports.Engine = (*Engine)(nil)
