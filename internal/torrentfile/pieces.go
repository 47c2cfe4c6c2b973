package torrentfile

import "webtorrent/internal/domain"

// PieceSpan maps the byte range [offset, offset+length) onto the inclusive
// range of pieces that back it. The result is meaningless for length == 0;
// callers handle empty files before asking.
func PieceSpan(offset, length, pieceLength int64) domain.PieceRange {
	return domain.PieceRange{
		Start: int(offset / pieceLength),
		End:   int((offset + length - 1) / pieceLength),
	}
}
