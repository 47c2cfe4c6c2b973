package anacrolix

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"webtorrent/internal/domain"
	"webtorrent/internal/metrics"
	"webtorrent/internal/torrentfile"
)

type session struct {
	id domain.TorrentID
	t  *torrent.Torrent

	mu     sync.Mutex
	store  *Store
	files  []*torrentfile.File
	closed bool
}

func buildFiles(store *Store, infos []domain.FileInfo, logger *slog.Logger) ([]*torrentfile.File, error) {
	files := make([]*torrentfile.File, 0, len(infos))
	for _, info := range infos {
		f, err := torrentfile.New(store, info, torrentfile.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// setLoaded installs store and files unless the session was closed or
// loaded already.
func (s *session) setLoaded(store *Store, files []*torrentfile.File) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.store != nil {
		return false
	}
	s.store = store
	s.files = files
	return true
}

func (s *session) loaded() (*Store, []*torrentfile.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, nil, false
	}
	return s.store, s.files, true
}

func (s *session) streams() int {
	store, _, ok := s.loaded()
	if !ok {
		return 0
	}
	return store.Streams()
}

// close destroys the files first so their open streams skip the store on
// release, then the store, then drops the torrent.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	store, files := s.store, s.files
	s.mu.Unlock()

	for _, f := range files {
		f.Destroy()
	}
	if store != nil {
		store.destroy()
	}
	if s.t != nil {
		s.t.Drop()
	}
}

// poll wakes streams on pieces completed since the last poll and closes the
// Done signal of files that finished.
func (s *session) poll() {
	store, files, ok := s.loaded()
	if !ok {
		return
	}
	fresh := store.refresh()
	if len(fresh) == 0 {
		return
	}
	metrics.PiecesVerifiedTotal.Add(float64(len(fresh)))
	for _, f := range files {
		for _, i := range fresh {
			if f.Includes(i) {
				f.CheckDone()
				break
			}
		}
	}
}

func (e *Engine) startPolling() {
	ctx, cancel := context.WithCancel(context.Background())
	e.pollCancel = cancel
	e.pollDone = make(chan struct{})
	go e.pollLoop(ctx)
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer close(e.pollDone)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollSessions()
		}
	}
}

func (e *Engine) pollSessions() {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	for _, s := range sessions {
		s.poll()
	}
}
