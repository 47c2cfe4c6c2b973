// Package selection keeps the set of piece selections registered against a
// store. Selections overlap freely. A stream boost is removed by the id Add
// returned for it, so one stream going away never takes another stream's
// boost or readiness callback with it.
package selection

import (
	"sync"

	"webtorrent/internal/domain"
)

type entry struct {
	id       domain.SelectionID
	pieces   domain.PieceRange
	priority bool
	notify   func()
}

// stream boosts carry a readiness callback; standing selections do not.
func (e *entry) stream() bool { return e.notify != nil }

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	lastID  domain.SelectionID
	entries []*entry
}

func New() *Registry {
	return &Registry{}
}

// Add registers a selection over pieces and returns its id. A non-nil
// notify marks it as a stream boost and is called by Notify for pieces
// inside the range.
func (r *Registry) Add(pieces domain.PieceRange, priority bool, notify func()) domain.SelectionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	r.entries = append(r.entries, &entry{id: r.lastID, pieces: pieces, priority: priority, notify: notify})
	return r.lastID
}

// Remove drops one standing selection over exactly pieces. Stream boosts
// never match. It reports whether anything was removed.
func (r *Registry) Remove(pieces domain.PieceRange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if e := r.entries[i]; e.pieces == pieces && !e.stream() {
			r.removeLocked(i)
			return true
		}
	}
	return false
}

// RemoveStream drops the stream boost id and returns the pieces it covered.
// It reports false when id is not a registered boost, for example after
// Clear.
func (r *Registry) RemoveStream(id domain.SelectionID) (domain.PieceRange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id && e.stream() {
			r.removeLocked(i)
			return e.pieces, true
		}
	}
	return domain.PieceRange{}, false
}

func (r *Registry) removeLocked(i int) {
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
}

// Priority is the highest priority any selection gives piece index, or
// PriorityNone when nothing covers it.
func (r *Registry) Priority(index int) domain.Priority {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.priorityLocked(index)
}

// Priorities returns Priority for every piece of span, in order.
func (r *Registry) Priorities(span domain.PieceRange) []domain.Priority {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Priority, 0, span.Len())
	for i := span.Start; i <= span.End; i++ {
		out = append(out, r.priorityLocked(i))
	}
	return out
}

func (r *Registry) priorityLocked(index int) domain.Priority {
	prio := domain.PriorityNone
	for _, e := range r.entries {
		if !e.pieces.Contains(index) {
			continue
		}
		if p := domain.SelectionPriority(e.priority); p > prio {
			prio = p
		}
	}
	return prio
}

// Selected reports whether any selection covers piece index.
func (r *Registry) Selected(index int) bool {
	return r.Priority(index) != domain.PriorityNone
}

// Notify calls the readiness callback of every stream boost covering piece
// index. Callbacks run outside the lock.
func (r *Registry) Notify(index int) {
	r.mu.Lock()
	var fns []func()
	for _, e := range r.entries {
		if e.stream() && e.pieces.Contains(index) {
			fns = append(fns, e.notify)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// NotifyAll wakes every stream boost, for example when the store shuts down.
func (r *Registry) NotifyAll() {
	r.mu.Lock()
	var fns []func()
	for _, e := range r.entries {
		if e.stream() {
			fns = append(fns, e.notify)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Counts returns the number of standing selections and stream boosts.
func (r *Registry) Counts() (standing, streams int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.stream() {
			streams++
		} else {
			standing++
		}
	}
	return standing, streams
}

// Clear drops every selection.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}
