package torrentfile

import (
	"bytes"
	"context"
	"io"
	"sync"

	"webtorrent/internal/domain"
	"webtorrent/internal/domain/ports"
	"webtorrent/internal/selection"
)

type storeCall struct {
	op        string
	pieces    domain.PieceRange
	priority  bool
	streaming bool
	id        domain.SelectionID
}

// recordingStore is a ports.Store whose piece states are set by the test and
// which records every Select and Deselect.
type recordingStore struct {
	pieceLength int64
	numPieces   int

	mu         sync.Mutex
	noBitfield bool
	verified   map[int]bool
	missing    map[int]int64
	destroyed  bool
	calls      []storeCall
	streamErr  error
	streamData []byte
	readErr    error
	readers    []*fakeReader
	// onNewStream, when set, runs inside NewStream.
	onNewStream func()

	registry *selection.Registry
}

func newRecordingStore(pieceLength int64, numPieces int) *recordingStore {
	return &recordingStore{
		pieceLength: pieceLength,
		numPieces:   numPieces,
		verified:    map[int]bool{},
		missing:     map[int]int64{},
		registry:    selection.New(),
	}
}

func (s *recordingStore) PieceLength() int64 { return s.pieceLength }
func (s *recordingStore) NumPieces() int     { return s.numPieces }

func (s *recordingStore) HasBitfield() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.noBitfield
}

func (s *recordingStore) Verified(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified[index]
}

// Missing defaults to a whole piece for pieces the test did not set.
func (s *recordingStore) Missing(index int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.missing[index]; ok {
		return m
	}
	if s.verified[index] {
		return 0
	}
	return s.pieceLength
}

func (s *recordingStore) Select(r domain.PieceRange, priority bool, onReady func()) domain.SelectionID {
	s.mu.Lock()
	s.calls = append(s.calls, storeCall{op: "select", pieces: r, priority: priority, streaming: onReady != nil})
	s.mu.Unlock()
	return s.registry.Add(r, priority, onReady)
}

func (s *recordingStore) Deselect(r domain.PieceRange) {
	s.mu.Lock()
	s.calls = append(s.calls, storeCall{op: "deselect", pieces: r})
	s.mu.Unlock()
	s.registry.Remove(r)
}

func (s *recordingStore) DeselectStream(id domain.SelectionID) {
	pieces, _ := s.registry.RemoveStream(id)
	s.mu.Lock()
	s.calls = append(s.calls, storeCall{op: "deselect", pieces: pieces, streaming: true, id: id})
	s.mu.Unlock()
}

func (s *recordingStore) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *recordingStore) NewStream(file domain.FileInfo, opts domain.StreamOptions) (ports.StreamReader, error) {
	if s.onNewStream != nil {
		s.onNewStream()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	r := &fakeReader{Reader: bytes.NewReader(s.streamData), err: s.readErr}
	s.readers = append(s.readers, r)
	return r, nil
}

func (s *recordingStore) setVerified(index int) {
	s.mu.Lock()
	s.verified[index] = true
	s.mu.Unlock()
}

func (s *recordingStore) setMissing(index int, n int64) {
	s.mu.Lock()
	s.missing[index] = n
	s.mu.Unlock()
}

func (s *recordingStore) destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
}

func (s *recordingStore) count(op string, streaming bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.op == op && c.streaming == streaming {
			n++
		}
	}
	return n
}

func (s *recordingStore) snapshot() []storeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storeCall(nil), s.calls...)
}

// fakeReader serves fixed bytes, then err (io.EOF when nil).
type fakeReader struct {
	*bytes.Reader
	err error

	mu       sync.Mutex
	ctx      context.Context
	closed   bool
	notified int
}

func (r *fakeReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if err == io.EOF && r.err != nil {
		return n, r.err
	}
	return n, err
}

func (r *fakeReader) SetContext(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

func (r *fakeReader) Notify() {
	r.mu.Lock()
	r.notified++
	r.mu.Unlock()
}

func (r *fakeReader) notifications() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notified
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
