package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
)

var errStreamClosed = errors.New("stream closed")

// NewStream opens a reader over the part of file selected by opts. Reads
// block until the piece under the read position is verified.
func (s *Store) NewStream(file domain.FileInfo, opts domain.StreamOptions) (ports.StreamReader, error) {
	if s.destroyed.IsSet() {
		return nil, domain.ErrStoreDestroyed
	}
	if file.Offset < 0 || file.Length < 0 || file.Offset+file.Length > s.length {
		return nil, fmt.Errorf("%w: %q outside store", domain.ErrInvalidGeometry, file.Path)
	}
	start, n, ok := opts.Bounds(file.Length)
	if !ok {
		return nil, fmt.Errorf("%w: %d-%d of %d bytes", domain.ErrInvalidRange, opts.Start, opts.End, file.Length)
	}
	return &pieceStream{
		store: s,
		base:  file.Offset + start,
		size:  n,
		ctx:   context.Background(),
		wake:  make(chan struct{}, 1),
	}, nil
}

// pieceStream reads the absolute byte range [base, base+size) of a store.
// Positions are relative to base.
type pieceStream struct {
	store *Store
	base  int64
	size  int64
	wake  chan struct{}

	closed atomic.Bool

	mu  sync.Mutex
	ctx context.Context
	pos int64
}

func (r *pieceStream) SetContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

func (r *pieceStream) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *pieceStream) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return 0, errStreamClosed
	}
	if r.pos >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	abs := r.base + r.pos
	index := int(abs / r.store.pieceLength)
	pieceOff := abs % r.store.pieceLength
	want := min(int64(len(p)), r.size-r.pos, r.store.pieceSize(index)-pieceOff)

	for {
		if err := r.waitVerified(index); err != nil {
			return 0, err
		}
		n, err := r.readPieceAt(index, p[:want], pieceOff)
		if errors.Is(err, os.ErrNotExist) {
			// Evicted between the check and the read; wait for it again.
			continue
		}
		r.pos += int64(n)
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}
		if int64(n) < want {
			return n, io.ErrUnexpectedEOF
		}
		return n, nil
	}
}

func (r *pieceStream) waitVerified(index int) error {
	for {
		// Take the signal before checking so a broadcast in between is not lost.
		arrived := r.store.arrived.Signaled()
		if r.store.destroyed.IsSet() {
			return domain.ErrStoreDestroyed
		}
		if r.closed.Load() {
			return errStreamClosed
		}
		if r.store.Verified(index) {
			return nil
		}
		select {
		case <-arrived:
		case <-r.wake:
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	}
}

func (r *pieceStream) readPieceAt(index int, dst []byte, off int64) (int, error) {
	return r.store.ReadAt(index, dst, off)
}

func (r *pieceStream) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.pos + offset
	case io.SeekEnd:
		next = r.size + offset
	default:
		return r.pos, errors.New("invalid whence")
	}
	if next < 0 {
		return r.pos, errors.New("negative position")
	}
	r.pos = next
	return next, nil
}

// Close fails reads in progress and any later ones.
func (r *pieceStream) Close() error {
	r.closed.Store(true)
	r.Notify()
	return nil
}
