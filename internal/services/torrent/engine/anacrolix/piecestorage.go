package anacrolix

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"webtorrent/internal/domain"
	"webtorrent/internal/store"
	"webtorrent/internal/storage/memory"
)

// pieceStorage is the memory-mode storage backend of the client. Each
// torrent's pieces live in a store.Store; all of them share one provider,
// so the memory limit is global.
type pieceStorage struct {
	provider *memory.Provider
	logger   *slog.Logger

	mu     sync.Mutex
	stores map[string]*store.Store
}

func newPieceStorage(logger *slog.Logger) *pieceStorage {
	return &pieceStorage{
		logger: logger,
		stores: make(map[string]*store.Store),
	}
}

func (ps *pieceStorage) OpenTorrent(_ context.Context, info *metainfo.Info, infoHash metainfo.Hash) (storage.TorrentImpl, error) {
	namespace := infoHash.HexString()
	s, err := store.New(info.PieceLength, info.TotalLength(),
		store.WithProvider(ps.provider, namespace),
		store.WithDeferredVerify(),
		store.WithLogger(ps.logger.With(slog.String("infoHash", namespace))),
	)
	if err != nil {
		return storage.TorrentImpl{}, err
	}

	ps.mu.Lock()
	old := ps.stores[namespace]
	ps.stores[namespace] = s
	ps.mu.Unlock()
	if old != nil {
		old.Destroy()
	}

	return storage.TorrentImpl{
		Piece: func(p metainfo.Piece) storage.PieceImpl {
			return storePiece{store: s, index: p.Index()}
		},
		Close: func() error {
			ps.close(namespace, s)
			return nil
		},
	}, nil
}

func (ps *pieceStorage) close(namespace string, s *store.Store) {
	ps.mu.Lock()
	if ps.stores[namespace] == s {
		delete(ps.stores, namespace)
	}
	ps.mu.Unlock()
	s.Destroy()
}

// lookup returns the store holding the torrent's pieces, if it is open.
func (ps *pieceStorage) lookup(infoHash string) (*store.Store, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	s, ok := ps.stores[infoHash]
	return s, ok
}

// evicted routes a provider eviction to the torrent owning the blob.
func (ps *pieceStorage) evicted(name string) {
	namespace, _, ok := strings.Cut(name, "/")
	if !ok {
		return
	}
	if s, ok := ps.lookup(namespace); ok {
		s.Evicted(name)
	}
}

// storePiece adapts one piece of a store.Store to the client's piece
// storage. The client writes whole aligned chunks of store.BlockSize.
type storePiece struct {
	store *store.Store
	index int
}

func (p storePiece) ReadAt(b []byte, off int64) (int, error) {
	return p.store.ReadAt(p.index, b, off)
}

func (p storePiece) WriteAt(b []byte, off int64) (int, error) {
	n := 0
	for n < len(b) {
		pos := off + int64(n)
		end := min(len(b), n+store.BlockSize-int(pos%store.BlockSize))
		if err := p.store.WriteChunk(p.index, pos, b[n:end]); err != nil {
			return n, err
		}
		n = end
	}
	return n, nil
}

func (p storePiece) MarkComplete() error {
	if p.store.Destroyed() {
		return domain.ErrStoreDestroyed
	}
	p.store.MarkVerified(p.index)
	return nil
}

func (p storePiece) MarkNotComplete() error {
	p.store.Reset(p.index)
	return nil
}

func (p storePiece) Completion() storage.Completion {
	return storage.Completion{Complete: p.store.Verified(p.index), Ok: true}
}

var _ storage.ClientImpl = (*pieceStorage)(nil)
