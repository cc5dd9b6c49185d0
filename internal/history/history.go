// Package history provides a bounded undo/redo stack over arbitrary
// snapshots, with time-based coalescing of rapid edits.
//
// History knows nothing about storage or documents. Callers push whole
// snapshots; the manager only moves them between past, present and future.
package history

import (
	"sync"
	"time"

	"github.com/roach88/draftkeep/internal/clock"
)

// DefaultLimit is the default maximum number of undo steps.
const DefaultLimit = 50

// State is a snapshot of a History.
//
// Past is ordered oldest first; Past[len(Past)-1] is what Undo restores.
// Future is ordered nearest first; Future[0] is what Redo restores.
type State[T any] struct {
	Past    []T `json:"past"`
	Present T   `json:"present"`
	Future  []T `json:"future"`
}

// History is a bounded undo/redo manager.
//
// Invariant: len(Past) <= limit. A push that does not coalesce always
// discards Future.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type History[T any] struct {
	mu       sync.Mutex
	past     []T
	present  T
	future   []T
	limit    int
	clock    clock.Clock
	lastPush time.Time
}

// Option configures a History.
type Option func(*options)

type options struct {
	limit int
	clock clock.Clock
}

// WithLimit sets the maximum number of undo steps. Values below 1 are
// ignored.
//
// Default: 50 (DefaultLimit)
func WithLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithClock sets the clock used to measure the coalescing window.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = clock.Or(c)
	}
}

// New creates a History whose present is present and whose past and future
// are empty.
func New[T any](present T, opts ...Option) *History[T] {
	o := options{limit: DefaultLimit, clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &History[T]{
		present: present,
		limit:   o.limit,
		clock:   o.clock,
	}
}

// Push records newPresent as a forward edit.
//
// When debounce > 0 and the previous push happened less than debounce ago,
// the edit is coalesced: present is replaced without creating an undo step.
// Otherwise the old present moves onto past, evicting the oldest entry once
// the limit is reached. Either way future is cleared and the push time is
// recorded.
//
// Coalescing is purely time-based; it does not look at what changed.
func (h *History[T]) Push(newPresent T, debounce time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	coalesce := debounce > 0 && !h.lastPush.IsZero() && now.Sub(h.lastPush) < debounce
	h.lastPush = now

	if !coalesce {
		h.appendPastLocked(h.present)
	}
	h.present = newPresent
	h.future = nil
}

// Undo restores the most recent past entry. Returns false, changing nothing,
// when there is nothing to undo.
func (h *History[T]) Undo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.past)
	if n == 0 {
		return false
	}
	prev := h.past[n-1]
	var zero T
	h.past[n-1] = zero
	h.past = h.past[:n-1]

	h.future = append([]T{h.present}, h.future...)
	h.present = prev
	return true
}

// Redo restores the nearest future entry. Returns false, changing nothing,
// when there is nothing to redo.
func (h *History[T]) Redo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.future) == 0 {
		return false
	}
	next := h.future[0]
	h.future = h.future[1:]

	h.appendPastLocked(h.present)
	h.present = next
	return true
}

// appendPastLocked pushes v onto past, dropping the oldest entries beyond
// the limit.
func (h *History[T]) appendPastLocked(v T) {
	h.past = append(h.past, v)
	if over := len(h.past) - h.limit; over > 0 {
		clear(h.past[:over])
		h.past = h.past[over:]
	}
}

// Set replaces present without touching past or future. Use it for
// external synchronization, such as applying a recovered draft, that must
// not itself be undoable.
func (h *History[T]) Set(newPresent T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.present = newPresent
}

// Present returns the current snapshot.
func (h *History[T]) Present() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.present
}

// State returns a copy of the full history. The slices are never nil.
func (h *History[T]) State() State[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	return State[T]{
		Past:    append(make([]T, 0, len(h.past)), h.past...),
		Present: h.present,
		Future:  append(make([]T, 0, len(h.future)), h.future...),
	}
}

// CanUndo reports whether Undo would change anything.
func (h *History[T]) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past) > 0
}

// CanRedo reports whether Redo would change anything.
func (h *History[T]) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.future) > 0
}
