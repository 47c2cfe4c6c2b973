package torrentfile

import "webtorrent/internal/domain"

// pieceStates is the read-only slice of ports.Store the aggregator needs.
type pieceStates interface {
	PieceLength() int64
	HasBitfield() bool
	Verified(index int) bool
	Missing(index int) int64
}

// Downloaded returns how many bytes of the file are present in the store,
// counting verified pieces in full and in-progress pieces minus their
// missing bytes. Bytes of the first and last piece that belong to the
// neighbouring files are excluded. Recomputed on every call.
func (f *File) Downloaded() int64 {
	if f.info.Length == 0 {
		return 0
	}
	store, ok := f.activeStore()
	if !ok {
		return 0
	}
	return downloadedBytes(store, f.info.Offset, f.info.Length, f.pieces)
}

// Progress is Downloaded as a fraction of the file length, in [0, 1].
func (f *File) Progress() float64 {
	if f.info.Length == 0 {
		return 0
	}
	return float64(f.Downloaded()) / float64(f.info.Length)
}

func downloadedBytes(store pieceStates, offset, length int64, span domain.PieceRange) int64 {
	if !store.HasBitfield() {
		return 0
	}
	pieceLength := store.PieceLength()

	head := offset % pieceLength
	var n, last int64
	if store.Verified(span.Start) {
		last = pieceLength - head
	} else {
		last = max(0, pieceLength-head-store.Missing(span.Start))
	}
	n = last

	// The end piece is counted in full here and trimmed below.
	for i := span.Start + 1; i <= span.End; i++ {
		if store.Verified(i) {
			last = pieceLength
		} else {
			last = max(0, pieceLength-store.Missing(i))
		}
		n += last
	}

	// Bytes of the end piece that belong to the next file. Never trim more
	// than the end piece contributed.
	tail := (pieceLength - (offset+length)%pieceLength) % pieceLength
	n -= min(tail, last)

	// Missing counters change under us while pieces arrive.
	return min(max(n, 0), length)
}
