package anacrolix

import (
	"log/slog"

	"github.com/anacrolix/torrent"

	"webtorrent/internal/domain"
)

func mapPriority(prio domain.Priority) torrent.PiecePriority {
	switch prio {
	case domain.PriorityNone:
		return torrent.PiecePriorityNone
	case domain.PriorityHigh:
		return torrent.PiecePriorityNow
	case domain.PriorityNext:
		return torrent.PiecePriorityNext
	case domain.PriorityReadahead:
		return torrent.PiecePriorityReadahead
	case domain.PriorityNormal:
		return torrent.PiecePriorityNormal
	default:
		return torrent.PiecePriorityNormal
	}
}

// applyPriorities pushes the registry's current priority for every piece of
// r down to the torrent. anacrolix panics on pieces of a torrent that was
// dropped underneath us; that is logged, not propagated.
func (s *Store) applyPriorities(r domain.PieceRange) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Warn("applyPriorities recovered from panic",
				slog.Any("panic", rec),
				slog.String("torrentId", string(s.id)),
			)
		}
	}()

	s.prioMu.Lock()
	defer s.prioMu.Unlock()

	start := max(r.Start, 0)
	end := min(r.End, s.t.NumPieces()-1)
	if start > end {
		return
	}
	span := domain.PieceRange{Start: start, End: end}
	for i, prio := range s.selections.Priorities(span) {
		s.t.SetPiecePriority(start+i, mapPriority(prio))
	}
}
