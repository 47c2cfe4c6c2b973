package ports

import "webtorrent/internal/domain"

// Store is the piece-addressed content store a File views. Bitfield and
// missing counters are maintained by the acquisition engine; File only
// reads them and writes selections.
type Store interface {
	PieceLength() int64
	NumPieces() int
	// HasBitfield reports whether verification state exists yet (metadata loaded).
	HasBitfield() bool
	Verified(index int) bool
	// Missing is the number of bytes of an incomplete piece not yet received.
	Missing(index int) int64
	// Select registers a selection over r and returns its id. A non-nil
	// onReady marks it as a stream boost and is called whenever new piece
	// data in r may satisfy that stream's pending reads.
	Select(r domain.PieceRange, priority bool, onReady func()) domain.SelectionID
	// Deselect removes one standing selection over r. Stream boosts stay.
	Deselect(r domain.PieceRange)
	// DeselectStream removes exactly the stream boost id. Standing
	// selections and other boosts over the same pieces stay.
	DeselectStream(id domain.SelectionID)
	Destroyed() bool
	// NewStream opens a byte stream over the file's bytes described by opts.
	NewStream(file domain.FileInfo, opts domain.StreamOptions) (StreamReader, error)
}
