package store

import (
	"fmt"
	"io"
	"log/slog"

	"webtorrent/internal/domain"
	"webtorrent/internal/metrics"
)

// WriteChunk stores one block of piece data. off must be block aligned and
// data must be a whole block, or the tail of the piece. Writing a block the
// piece already holds is a no-op for the missing counter. When the last
// block lands the piece is verified, or reset if verification fails.
func (s *Store) WriteChunk(index int, off int64, data []byte) error {
	if s.destroyed.IsSet() {
		return domain.ErrStoreDestroyed
	}
	if index < 0 || index >= s.numPieces {
		return fmt.Errorf("%w: %d", ErrPieceIndex, index)
	}
	size := s.pieceSize(index)
	if off < 0 || off%BlockSize != 0 || off >= size {
		return fmt.Errorf("%w: piece %d offset %d", ErrBlock, index, off)
	}
	if want := min(int64(BlockSize), size-off); int64(len(data)) != want {
		return fmt.Errorf("%w: piece %d offset %d has %d bytes, want %d", ErrBlock, index, off, len(data), want)
	}

	inst, err := s.provider.NewInstance(s.pieceKey(index))
	if err != nil {
		return err
	}
	if _, err := inst.WriteAt(data, off); err != nil {
		return err
	}

	block := uint32(off / BlockSize)
	s.mu.Lock()
	if s.verified.Contains(uint32(index)) || !s.blocks[index].CheckedAdd(block) {
		s.mu.Unlock()
		return nil
	}
	s.missing[index] -= int64(len(data))
	complete := s.missing[index] == 0
	s.mu.Unlock()

	if complete {
		s.completePiece(index)
	}
	return nil
}

func (s *Store) completePiece(index int) {
	if s.deferVerify {
		return
	}
	if s.verify != nil {
		data, err := s.readPiece(index)
		if err != nil || !s.verify(index, data) {
			s.logger.Warn("piece failed verification", slog.Int("piece", index))
			s.resetPiece(index, true)
			return
		}
	}
	s.MarkVerified(index)
}

// MarkVerified records index as verified, for data that was already checked
// elsewhere, and wakes the streams waiting on it.
func (s *Store) MarkVerified(index int) {
	if index < 0 || index >= s.numPieces || s.destroyed.IsSet() {
		return
	}
	s.mu.Lock()
	first := s.verified.CheckedAdd(uint32(index))
	s.missing[index] = 0
	s.mu.Unlock()
	if !first {
		return
	}

	metrics.PiecesVerifiedTotal.Inc()
	s.selections.Notify(index)
	s.arrived.Broadcast()
	if s.onVerified != nil {
		s.onVerified(index)
	}
}

// ReadAt reads data held for piece index, verified or not.
func (s *Store) ReadAt(index int, p []byte, off int64) (int, error) {
	if s.destroyed.IsSet() {
		return 0, domain.ErrStoreDestroyed
	}
	if index < 0 || index >= s.numPieces {
		return 0, fmt.Errorf("%w: %d", ErrPieceIndex, index)
	}
	inst, err := s.provider.NewInstance(s.pieceKey(index))
	if err != nil {
		return 0, err
	}
	return inst.ReadAt(p, off)
}

// Reset marks index as not downloaded. Data already held is kept and
// overwritten by the next writes.
func (s *Store) Reset(index int) {
	if index < 0 || index >= s.numPieces || s.destroyed.IsSet() {
		return
	}
	s.resetPiece(index, false)
}

func (s *Store) readPiece(index int) ([]byte, error) {
	inst, err := s.provider.NewInstance(s.pieceKey(index))
	if err != nil {
		return nil, err
	}
	rc, err := inst.Get()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// resetPiece forgets everything received for index.
func (s *Store) resetPiece(index int, dropData bool) {
	s.mu.Lock()
	s.verified.Remove(uint32(index))
	s.blocks[index].Clear()
	s.missing[index] = s.pieceSize(index)
	s.mu.Unlock()

	if !dropData {
		return
	}
	if inst, err := s.provider.NewInstance(s.pieceKey(index)); err == nil {
		_ = inst.Delete()
	}
}

// Evicted runs when memory storage drops the blob called name. Names that
// are not this store's pieces are ignored.
func (s *Store) Evicted(name string) {
	index, ok := s.parsePieceKey(name)
	if !ok || index >= s.numPieces {
		return
	}
	s.resetPiece(index, false)
	metrics.PiecesEvictedTotal.Inc()
	s.logger.Debug("piece evicted", slog.Int("piece", index))
}
