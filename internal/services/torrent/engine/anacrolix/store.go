package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
	"webtorrent/internal/selection"
)

// Store presents one anacrolix torrent as a ports.Store. Selections are
// reference counted in a registry and the resulting priority of each piece
// is applied to the torrent.
type Store struct {
	t         pieceTorrent
	id        domain.TorrentID
	logger    *slog.Logger
	readahead int64

	selections *selection.Registry
	prioMu     sync.Mutex
	destroyed  chansync.SetOnce

	mu       sync.Mutex
	complete *roaring.Bitmap
}

func newStore(t pieceTorrent, id domain.TorrentID, readahead int64, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		t:          t,
		id:         id,
		logger:     logger,
		readahead:  readahead,
		selections: selection.New(),
		complete:   roaring.New(),
	}
}

func (s *Store) PieceLength() int64 { return s.t.PieceLength() }
func (s *Store) NumPieces() int     { return s.t.NumPieces() }

// HasBitfield is true from the moment the torrent's info is known, which is
// when the engine creates the Store, until the torrent is dropped.
func (s *Store) HasBitfield() bool {
	return !s.destroyed.IsSet()
}

func (s *Store) Verified(index int) bool {
	if s.destroyed.IsSet() || index < 0 || index >= s.t.NumPieces() {
		return false
	}
	return s.t.PieceComplete(index)
}

func (s *Store) Missing(index int) int64 {
	if s.destroyed.IsSet() || index < 0 || index >= s.t.NumPieces() {
		return 0
	}
	return s.t.PieceBytesMissing(index)
}

func (s *Store) Select(r domain.PieceRange, priority bool, onReady func()) domain.SelectionID {
	if s.destroyed.IsSet() {
		return 0
	}
	id := s.selections.Add(r, priority, onReady)
	s.applyPriorities(r)
	return id
}

func (s *Store) Deselect(r domain.PieceRange) {
	if s.destroyed.IsSet() {
		return
	}
	if !s.selections.Remove(r) {
		s.logger.Warn("deselect without matching selection",
			slog.String("torrentId", string(s.id)),
			slog.Int("startPiece", r.Start),
			slog.Int("endPiece", r.End),
		)
		return
	}
	s.applyPriorities(r)
}

func (s *Store) DeselectStream(id domain.SelectionID) {
	if s.destroyed.IsSet() {
		return
	}
	pieces, ok := s.selections.RemoveStream(id)
	if !ok {
		s.logger.Warn("stream deselect without matching boost",
			slog.String("torrentId", string(s.id)),
			slog.Uint64("selection", uint64(id)),
		)
		return
	}
	s.applyPriorities(pieces)
}

func (s *Store) Destroyed() bool {
	return s.destroyed.IsSet()
}

func (s *Store) NewStream(file domain.FileInfo, opts domain.StreamOptions) (ports.StreamReader, error) {
	if s.destroyed.IsSet() {
		return nil, domain.ErrStoreDestroyed
	}
	start, n, ok := opts.Bounds(file.Length)
	if !ok {
		return nil, fmt.Errorf("%w: %d-%d of %d bytes", domain.ErrInvalidRange, opts.Start, opts.End, file.Length)
	}
	r, err := s.t.NewFileReader(file.Index)
	if err != nil {
		return nil, fmt.Errorf("%w: file %d", domain.ErrNotFound, file.Index)
	}
	if s.readahead > 0 {
		r.SetReadahead(s.readahead)
	}
	r.SetResponsive()
	if start > 0 {
		if _, err := r.Seek(start, io.SeekStart); err != nil {
			r.Close()
			return nil, err
		}
	}
	return &rangeReader{r: r, start: start, size: n}, nil
}

// Streams reports how many stream boosts are registered.
func (s *Store) Streams() int {
	_, streams := s.selections.Counts()
	return streams
}

// refresh compares piece completion with the last call and wakes the streams
// covering pieces that completed since. It returns the newly completed
// pieces.
func (s *Store) refresh() []int {
	if s.destroyed.IsSet() {
		return nil
	}
	var fresh []int
	n := s.t.NumPieces()
	s.mu.Lock()
	for i := 0; i < n; i++ {
		if s.complete.Contains(uint32(i)) || !s.t.PieceComplete(i) {
			continue
		}
		s.complete.Add(uint32(i))
		fresh = append(fresh, i)
	}
	s.mu.Unlock()

	for _, i := range fresh {
		s.selections.Notify(i)
	}
	return fresh
}

// destroy runs before the torrent is dropped. Streams still open keep their
// reader, which fails on its own once the torrent is closed.
func (s *Store) destroy() {
	if !s.destroyed.Set() {
		return
	}
	s.selections.NotifyAll()
	s.selections.Clear()
}

var _ ports.Store = (*Store)(nil)

// rangeReader limits a torrent file reader to [start, start+size) of the
// file and reports positions relative to start.
type rangeReader struct {
	r     fileReader
	start int64
	size  int64

	mu  sync.Mutex
	pos int64
}

func (r *rangeReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= r.size {
		return 0, io.EOF
	}
	if rest := r.size - r.pos; int64(len(p)) > rest {
		p = p[:rest]
	}
	n, err := r.r.Read(p)
	r.pos += int64(n)
	if errors.Is(err, io.EOF) && r.pos < r.size {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
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
	if _, err := r.r.Seek(r.start+next, io.SeekStart); err != nil {
		return r.pos, err
	}
	r.pos = next
	return next, nil
}

func (r *rangeReader) Close() error                   { return r.r.Close() }
func (r *rangeReader) SetContext(ctx context.Context) { r.r.SetContext(ctx) }

// Notify is a no-op: anacrolix readers wake themselves when data arrives.
func (r *rangeReader) Notify() {}
