package pattern

import (
	"sync"
	"sync/atomic"
)

// Handle is the shared, most recently committed pattern set.
//
// Writers go through Update and are serialized. Readers call Load once per
// tick and never block; they always see a fully committed Set, never a
// half-applied edit.
type Handle struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Set]
}

// NewHandle creates a handle holding the given set
func NewHandle(initial Set) *Handle {
	h := &Handle{}
	h.current.Store(&initial)
	return h
}

// Load returns the committed set
func (h *Handle) Load() Set {
	return *h.current.Load()
}

// Store replaces the committed set
func (h *Handle) Store(s Set) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Store(&s)
}

// Update applies fn to the committed set and commits its result.
// Nothing is committed when fn returns an error.
func (h *Handle) Update(fn func(Set) (Set, error)) (Set, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := fn(*h.current.Load())
	if err != nil {
		return *h.current.Load(), err
	}
	h.current.Store(&next)
	return next, nil
}
