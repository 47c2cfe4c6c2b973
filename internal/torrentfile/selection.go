package torrentfile

import (
	"log/slog"

	"webtorrent/internal/domain/ports"
	"webtorrent/internal/metrics"
)

// Select asks the store to download the file's pieces, at high priority when
// priority is set. The selection stands until Deselect and is independent of
// any open stream. Selections stack: each Select needs its own Deselect.
func (f *File) Select(priority bool) {
	if f.info.Length == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.state.(active)
	if !ok {
		f.logger.Warn("select on destroyed file", slog.String("path", f.info.Path))
		return
	}
	f.selectLocked(st.store, priority)
}

// Deselect removes one standing selection made by Select.
func (f *File) Deselect() {
	if f.info.Length == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.state.(active)
	if !ok {
		f.logger.Warn("deselect on destroyed file", slog.String("path", f.info.Path))
		return
	}
	f.deselectLocked(st.store)
}

// SetSelection leaves the file with exactly one standing selection at
// priority, or none when selected is false, however many Select calls came
// before. Stream boosts are not affected.
func (f *File) SetSelection(selected, priority bool) {
	if f.info.Length == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.state.(active)
	if !ok {
		f.logger.Warn("selection change on destroyed file", slog.String("path", f.info.Path))
		return
	}
	for f.standing > 0 {
		f.deselectLocked(st.store)
	}
	if selected {
		f.selectLocked(st.store, priority)
	}
}

// Selected reports whether the file holds a standing selection.
func (f *File) Selected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.standing > 0
}

func (f *File) selectLocked(store ports.Store, priority bool) {
	store.Select(f.pieces, priority, nil)
	f.standing++
	metrics.PieceSelectionsTotal.WithLabelValues("select", "standing").Inc()
}

func (f *File) deselectLocked(store ports.Store) {
	store.Deselect(f.pieces)
	if f.standing > 0 {
		f.standing--
	}
	metrics.PieceSelectionsTotal.WithLabelValues("deselect", "standing").Inc()
}
