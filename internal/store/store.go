// Package store is an in-process piece store: it tracks which pieces are
// verified and how many bytes each incomplete piece still misses, keeps
// piece data in a memory.Provider, registers selections and wakes streams
// when pieces arrive. In memory storage mode the anacrolix engine writes
// every downloaded block through WriteChunk.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
	"webtorrent/internal/selection"
	"webtorrent/internal/storage/memory"
)

// BlockSize is the unit in which piece data is received.
const BlockSize = 16 << 10

const pieceKeyPrefix = "pieces/"

var (
	ErrPieceIndex = errors.New("piece index out of range")
	ErrBlock      = errors.New("misaligned block")
)

// Verifier checks a completed piece, typically against its metainfo hash.
type Verifier func(index int, data []byte) bool

type Store struct {
	pieceLength int64
	length      int64
	numPieces   int
	logger      *slog.Logger
	verify      Verifier
	onVerified  func(index int)

	memoryLimit int64
	spillDir    string
	provider    *memory.Provider
	keyPrefix   string
	deferVerify bool
	selections  *selection.Registry

	// arrived is broadcast whenever a piece becomes verified or the store
	// goes away, so blocked reads re-check.
	arrived   chansync.BroadcastCond
	destroyed chansync.SetOnce

	mu       sync.RWMutex
	verified *roaring.Bitmap
	blocks   []*roaring.Bitmap
	missing  []int64
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithVerifier(v Verifier) Option {
	return func(s *Store) {
		s.verify = v
	}
}

// WithVerifiedHook registers fn to run after each piece is verified.
func WithVerifiedHook(fn func(index int)) Option {
	return func(s *Store) {
		s.onVerified = fn
	}
}

// WithMemoryLimit caps resident piece data. Pieces pushed out of the budget
// are forgotten unless WithSpillDir is also set.
func WithMemoryLimit(maxBytes int64) Option {
	return func(s *Store) {
		s.memoryLimit = maxBytes
	}
}

func WithSpillDir(dir string) Option {
	return func(s *Store) {
		s.spillDir = dir
	}
}

// WithProvider keeps piece data in p, shared with other stores, under
// namespace. The owner of p must route its evictions to Evicted; the
// memory limit and spill options are then ignored.
func WithProvider(p *memory.Provider, namespace string) Option {
	return func(s *Store) {
		s.provider = p
		s.keyPrefix = namespace + "/" + pieceKeyPrefix
	}
}

// WithDeferredVerify leaves a piece whose last block arrived unverified
// until the caller checks it and calls MarkVerified.
func WithDeferredVerify() Option {
	return func(s *Store) {
		s.deferVerify = true
	}
}

// New creates a store for length bytes split into pieces of pieceLength;
// the last piece may be shorter.
func New(pieceLength, length int64, opts ...Option) (*Store, error) {
	if pieceLength <= 0 {
		return nil, fmt.Errorf("%w: piece length %d", domain.ErrInvalidGeometry, pieceLength)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: length %d", domain.ErrInvalidGeometry, length)
	}
	numPieces := int((length + pieceLength - 1) / pieceLength)

	s := &Store{
		pieceLength: pieceLength,
		length:      length,
		numPieces:   numPieces,
		logger:      slog.Default(),
		keyPrefix:   pieceKeyPrefix,
		selections:  selection.New(),
		verified:    roaring.New(),
		blocks:      make([]*roaring.Bitmap, numPieces),
		missing:     make([]int64, numPieces),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.missing {
		s.missing[i] = s.pieceSize(i)
		s.blocks[i] = roaring.New()
	}
	if s.provider == nil {
		s.provider = memory.NewProvider(
			memory.WithMaxBytes(s.memoryLimit),
			memory.WithSpillDir(s.spillDir),
			memory.WithEvictHook(s.Evicted),
		)
	}
	return s, nil
}

func (s *Store) PieceLength() int64 { return s.pieceLength }
func (s *Store) NumPieces() int     { return s.numPieces }
func (s *Store) Length() int64      { return s.length }

func (s *Store) HasBitfield() bool {
	return !s.destroyed.IsSet()
}

func (s *Store) Verified(index int) bool {
	if index < 0 || index >= s.numPieces {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified.Contains(uint32(index))
}

func (s *Store) Missing(index int) int64 {
	if index < 0 || index >= s.numPieces {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missing[index]
}

// NumVerified is the number of verified pieces.
func (s *Store) NumVerified() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.verified.GetCardinality())
}

func (s *Store) Select(r domain.PieceRange, priority bool, onReady func()) domain.SelectionID {
	id := s.selections.Add(r, priority, onReady)
	s.logger.Debug("pieces selected",
		slog.Int("startPiece", r.Start),
		slog.Int("endPiece", r.End),
		slog.Bool("priority", priority),
		slog.Bool("stream", onReady != nil),
	)
	return id
}

func (s *Store) Deselect(r domain.PieceRange) {
	if !s.selections.Remove(r) {
		s.logger.Warn("deselect without matching selection",
			slog.Int("startPiece", r.Start),
			slog.Int("endPiece", r.End),
		)
	}
}

func (s *Store) DeselectStream(id domain.SelectionID) {
	if _, ok := s.selections.RemoveStream(id); !ok {
		s.logger.Warn("stream deselect without matching boost", slog.Uint64("selection", uint64(id)))
	}
}

// Priority is the download priority the current selections give a piece.
func (s *Store) Priority(index int) domain.Priority {
	return s.selections.Priority(index)
}

// Selections returns the number of standing selections and stream boosts.
func (s *Store) Selections() (standing, streams int) {
	return s.selections.Counts()
}

func (s *Store) Destroyed() bool {
	return s.destroyed.IsSet()
}

// Destroy deletes piece data and wakes every blocked stream, which then
// fails with domain.ErrStoreDestroyed.
func (s *Store) Destroy() {
	if !s.destroyed.Set() {
		return
	}
	s.mu.Lock()
	s.verified.Clear()
	s.mu.Unlock()
	for i := 0; i < s.numPieces; i++ {
		if inst, err := s.provider.NewInstance(s.pieceKey(i)); err == nil {
			_ = inst.Delete()
		}
	}

	s.selections.NotifyAll()
	s.arrived.Broadcast()
	s.selections.Clear()
	s.logger.Debug("store destroyed", slog.Int("numPieces", s.numPieces))
}

func (s *Store) pieceSize(index int) int64 {
	if index == s.numPieces-1 {
		if rem := s.length % s.pieceLength; rem != 0 {
			return rem
		}
	}
	return s.pieceLength
}

func (s *Store) pieceKey(index int) string {
	return s.keyPrefix + strconv.Itoa(index)
}

func (s *Store) parsePieceKey(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, s.keyPrefix)
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return index, true
}

var _ ports.Store = (*Store)(nil)
