package anacrolix

import (
	"bytes"
	"context"
	"sync"

	"github.com/anacrolix/torrent"
)

type fakeTorrent struct {
	pieceLength int64
	numPieces   int
	data        map[int][]byte

	mu         sync.Mutex
	complete   map[int]bool
	priorities map[int]torrent.PiecePriority
	readers    []*fakeFileReader
}

func newFakeTorrent(pieceLength int64, numPieces int) *fakeTorrent {
	return &fakeTorrent{
		pieceLength: pieceLength,
		numPieces:   numPieces,
		data:        map[int][]byte{},
		complete:    map[int]bool{},
		priorities:  map[int]torrent.PiecePriority{},
	}
}

func (t *fakeTorrent) PieceLength() int64 { return t.pieceLength }
func (t *fakeTorrent) NumPieces() int     { return t.numPieces }

func (t *fakeTorrent) PieceComplete(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete[index]
}

func (t *fakeTorrent) PieceBytesMissing(index int) int64 {
	if t.PieceComplete(index) {
		return 0
	}
	return t.pieceLength
}

func (t *fakeTorrent) SetPiecePriority(index int, prio torrent.PiecePriority) {
	t.mu.Lock()
	t.priorities[index] = prio
	t.mu.Unlock()
}

func (t *fakeTorrent) NewFileReader(fileIndex int) (fileReader, error) {
	data, ok := t.data[fileIndex]
	if !ok {
		return nil, errFileIndex
	}
	r := &fakeFileReader{Reader: bytes.NewReader(data)}
	t.mu.Lock()
	t.readers = append(t.readers, r)
	t.mu.Unlock()
	return r, nil
}

func (t *fakeTorrent) priority(index int) torrent.PiecePriority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priorities[index]
}

func (t *fakeTorrent) setComplete(index int) {
	t.mu.Lock()
	t.complete[index] = true
	t.mu.Unlock()
}

type fakeFileReader struct {
	*bytes.Reader
	readahead  int64
	responsive bool
	ctx        context.Context
	closed     bool
}

func (r *fakeFileReader) Close() error                   { r.closed = true; return nil }
func (r *fakeFileReader) SetContext(ctx context.Context) { r.ctx = ctx }
func (r *fakeFileReader) SetReadahead(n int64)           { r.readahead = n }
func (r *fakeFileReader) SetResponsive()                 { r.responsive = true }
