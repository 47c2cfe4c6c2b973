package domain

// FileInfo describes one file of a torrent as a byte range of the
// concatenated torrent data.
type FileInfo struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
	Offset int64  `json:"offset"`
}

// FileState is a point-in-time view of a file's download progress.
type FileState struct {
	FileInfo
	StartPiece int     `json:"startPiece"`
	EndPiece   int     `json:"endPiece"`
	Downloaded int64   `json:"downloaded"`
	Progress   float64 `json:"progress"`
	Done       bool    `json:"done"`
	Selected   bool    `json:"selected"`
}

// PieceRange is an inclusive span of piece indexes.
type PieceRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r PieceRange) Contains(index int) bool {
	return index >= r.Start && index <= r.End
}

func (r PieceRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// SelectionID identifies one selection registered with a store. The zero
// value identifies nothing.
type SelectionID uint64

// StreamOptions selects a sub-range of a file. End is inclusive; a negative
// End means "through the last byte".
type StreamOptions struct {
	Start int64
	End   int64
}

// Bounds resolves the options against a file length, returning the
// file-relative start and the number of bytes to deliver.
func (o StreamOptions) Bounds(length int64) (start, n int64, ok bool) {
	end := o.End
	if end < 0 || end >= length {
		end = length - 1
	}
	if o.Start < 0 || o.Start > end+1 {
		return 0, 0, false
	}
	return o.Start, end - o.Start + 1, true
}
