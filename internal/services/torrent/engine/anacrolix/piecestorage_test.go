package anacrolix

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"webtorrent/internal/domain"
	"webtorrent/internal/store"
	"webtorrent/internal/storage/memory"
)

const testChunkPieceLength = 2 * store.BlockSize

func newTestPieceStorage(t *testing.T, maxBytes int64) (*pieceStorage, *memory.Provider) {
	t.Helper()
	ps := newPieceStorage(slog.Default())
	provider := memory.NewProvider(
		memory.WithMaxBytes(maxBytes),
		memory.WithEvictHook(ps.evicted),
	)
	ps.provider = provider
	return ps, provider
}

// openTestTorrent opens two full pieces and a one-block tail piece.
func openTestTorrent(t *testing.T, ps *pieceStorage, b byte) (storage.TorrentImpl, *metainfo.Info, metainfo.Hash) {
	t.Helper()
	info := &metainfo.Info{Name: "t", PieceLength: testChunkPieceLength, Length: 2*testChunkPieceLength + store.BlockSize}
	var hash metainfo.Hash
	hash[0] = b
	impl, err := ps.OpenTorrent(context.Background(), info, hash)
	if err != nil {
		t.Fatalf("OpenTorrent: %v", err)
	}
	return impl, info, hash
}

func writeTestPiece(t *testing.T, p storage.PieceImpl, size int) []byte {
	t.Helper()
	data := bytes.Repeat([]byte{'p'}, size)
	if n, err := p.WriteAt(data, 0); err != nil || n != size {
		t.Fatalf("WriteAt = %d, %v, want %d", n, err, size)
	}
	return data
}

func TestPieceStorageWritesThroughStore(t *testing.T) {
	ps, provider := newTestPieceStorage(t, 0)
	impl, info, hash := openTestTorrent(t, ps, 1)
	p := impl.Piece(info.Piece(0))

	want := writeTestPiece(t, p, testChunkPieceLength)
	if c := p.Completion(); c.Complete || !c.Ok {
		t.Fatalf("Completion before MarkComplete = %+v", c)
	}
	s, ok := ps.lookup(hash.HexString())
	if !ok {
		t.Fatal("store not registered for the torrent")
	}
	if got := s.Missing(0); got != 0 {
		t.Fatalf("Missing(0) = %d after a full write, want 0", got)
	}

	got := make([]byte, len(want))
	if n, err := p.ReadAt(got, 0); n != len(want) || (err != nil && err != io.EOF) {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("ReadAt returned different bytes")
	}

	if err := p.MarkComplete(); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if c := p.Completion(); !c.Complete || !c.Ok {
		t.Fatalf("Completion after MarkComplete = %+v", c)
	}
	if err := p.MarkNotComplete(); err != nil {
		t.Fatalf("MarkNotComplete: %v", err)
	}
	if c := p.Completion(); c.Complete {
		t.Fatal("piece complete after MarkNotComplete")
	}
	if got := s.Missing(0); got != testChunkPieceLength {
		t.Fatalf("Missing(0) = %d after MarkNotComplete, want %d", got, testChunkPieceLength)
	}

	if err := impl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := ps.lookup(hash.HexString()); ok {
		t.Fatal("store still registered after Close")
	}
	if got := provider.ResidentBytes(); got != 0 {
		t.Fatalf("ResidentBytes = %d after Close, want 0", got)
	}
	if err := p.MarkComplete(); !errors.Is(err, domain.ErrStoreDestroyed) {
		t.Fatalf("MarkComplete after Close error = %v, want ErrStoreDestroyed", err)
	}
}

func TestPieceStorageRejectsMisalignedWrite(t *testing.T) {
	ps, _ := newTestPieceStorage(t, 0)
	impl, info, _ := openTestTorrent(t, ps, 1)
	p := impl.Piece(info.Piece(0))

	if _, err := p.WriteAt(make([]byte, 10), 5); !errors.Is(err, store.ErrBlock) {
		t.Fatalf("WriteAt error = %v, want ErrBlock", err)
	}
}

func TestPieceStorageEvictionResetsCompletion(t *testing.T) {
	ps, _ := newTestPieceStorage(t, testChunkPieceLength)
	a, info, _ := openTestTorrent(t, ps, 1)
	b, _, _ := openTestTorrent(t, ps, 2)

	pa := a.Piece(info.Piece(0))
	writeTestPiece(t, pa, testChunkPieceLength)
	if err := pa.MarkComplete(); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	// The other torrent's tail piece pushes pa out of the shared budget.
	pb := b.Piece(info.Piece(2))
	writeTestPiece(t, pb, store.BlockSize)
	if err := pb.MarkComplete(); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	if pa.Completion().Complete {
		t.Fatal("evicted piece still complete")
	}
	if !pb.Completion().Complete {
		t.Fatal("resident piece lost its completion")
	}
}

func TestPieceStorageReopenReplacesStore(t *testing.T) {
	ps, _ := newTestPieceStorage(t, 0)
	first, info, hash := openTestTorrent(t, ps, 1)
	p := first.Piece(info.Piece(0))
	writeTestPiece(t, p, testChunkPieceLength)

	second, _, _ := openTestTorrent(t, ps, 1)
	if err := p.MarkComplete(); !errors.Is(err, domain.ErrStoreDestroyed) {
		t.Fatalf("MarkComplete on replaced store error = %v, want ErrStoreDestroyed", err)
	}
	// Closing the stale handle leaves the new store registered.
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := ps.lookup(hash.HexString()); !ok {
		t.Fatal("reopened store dropped by the stale Close")
	}
	if err := second.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
