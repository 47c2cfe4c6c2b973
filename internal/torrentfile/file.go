// Package torrentfile models one file of a torrent: a contiguous byte range
// of the torrent's piece store. A File maps that range onto piece indexes,
// reports how much of it has been downloaded and opens read streams that
// raise the priority of the pieces they need while they are open.
package torrentfile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anacrolix/chansync"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
)

// lifecycle is the File's store attachment: active while the owning torrent
// is open, destroyed afterwards. Methods switch on it rather than testing a
// nil store.
type lifecycle interface {
	isLifecycle()
}

type active struct {
	store ports.Store
}

type destroyed struct{}

func (active) isLifecycle()    {}
func (destroyed) isLifecycle() {}

type File struct {
	info   domain.FileInfo
	pieces domain.PieceRange
	logger *slog.Logger

	done chansync.SetOnce

	mu    sync.RWMutex
	state lifecycle
	// standing counts the store selections made through Select.
	standing int
}

type Option func(*File)

func WithLogger(logger *slog.Logger) Option {
	return func(f *File) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates the File for info within store. Geometry that does not fit the
// store is a programming error and is rejected here rather than at use.
func New(store ports.Store, info domain.FileInfo, opts ...Option) (*File, error) {
	if store == nil {
		return nil, errors.New("torrentfile: nil store")
	}
	if info.Offset < 0 || info.Length < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", domain.ErrInvalidGeometry, info.Offset, info.Length)
	}
	pieceLength := store.PieceLength()
	if pieceLength <= 0 {
		return nil, fmt.Errorf("%w: piece length %d", domain.ErrInvalidGeometry, pieceLength)
	}

	f := &File{
		info:   info,
		logger: slog.Default(),
		state:  active{store: store},
	}
	for _, opt := range opts {
		opt(f)
	}

	if info.Length == 0 {
		f.done.Set()
		return f, nil
	}

	f.pieces = PieceSpan(info.Offset, info.Length, pieceLength)
	if numPieces := store.NumPieces(); f.pieces.End >= numPieces {
		return nil, fmt.Errorf("%w: %q ends in piece %d of %d",
			domain.ErrInvalidGeometry, info.Path, f.pieces.End, numPieces)
	}
	return f, nil
}

func (f *File) Name() string          { return f.info.Name }
func (f *File) Path() string          { return f.info.Path }
func (f *File) Length() int64         { return f.info.Length }
func (f *File) Offset() int64         { return f.info.Offset }
func (f *File) Info() domain.FileInfo { return f.info }

// Pieces returns the inclusive piece span of the file. ok is false for an
// empty file, which occupies no piece.
func (f *File) Pieces() (r domain.PieceRange, ok bool) {
	if f.info.Length == 0 {
		return domain.PieceRange{}, false
	}
	return f.pieces, true
}

// Includes reports whether piece index holds any byte of the file.
func (f *File) Includes(index int) bool {
	return f.info.Length > 0 && f.pieces.Contains(index)
}

// Done is closed once the file is known to be complete. For an empty file
// that happens in New.
func (f *File) Done() <-chan struct{} {
	return f.done.Done()
}

// CheckDone closes Done once every byte of the file is present and reports
// whether the file is done. The owner calls it after pieces are verified.
func (f *File) CheckDone() bool {
	if f.done.IsSet() {
		return true
	}
	if f.Downloaded() < f.info.Length {
		return false
	}
	if f.done.Set() {
		f.logger.Debug("file done", slog.String("path", f.info.Path))
	}
	return true
}

func (f *File) State() domain.FileState {
	downloaded := f.Downloaded()
	st := domain.FileState{
		FileInfo:   f.info,
		StartPiece: f.pieces.Start,
		EndPiece:   f.pieces.End,
		Downloaded: downloaded,
		Done:       f.done.IsSet(),
		Selected:   f.Selected(),
	}
	if f.info.Length > 0 {
		st.Progress = float64(downloaded) / float64(f.info.Length)
	}
	return st
}

func (f *File) Destroyed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.state.(destroyed)
	return ok
}

// Destroy detaches the file from its store. It is called once by the owner
// of the file list when the torrent goes away; streams still open keep
// working against their own reader but no longer touch the store.
func (f *File) Destroy() {
	f.mu.Lock()
	if _, ok := f.state.(destroyed); ok {
		f.mu.Unlock()
		return
	}
	f.state = destroyed{}
	f.mu.Unlock()

	f.logger.Debug("file destroyed", slog.String("path", f.info.Path))
}

// withStore runs fn with the store while holding the lifecycle read lock, so
// Destroy cannot slip between the lifecycle check and the store call. It
// reports false, without running fn, once the file is destroyed.
func (f *File) withStore(fn func(ports.Store)) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st, ok := f.state.(active)
	if !ok {
		return false
	}
	fn(st.store)
	return true
}

func (f *File) activeStore() (ports.Store, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	switch s := f.state.(type) {
	case active:
		return s.store, true
	default:
		return nil, false
	}
}

var _ ports.File = (*File)(nil)
