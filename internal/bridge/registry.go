package bridge

import (
	"sync"
	"sync/atomic"
)

// registry maps the user-data tokens handed to the engine back to their
// completions. Go pointers never cross the boundary; only the token does.
type registry struct {
	mu      sync.RWMutex
	seq     atomic.Uintptr
	entries map[uintptr]*Completion
}

func newRegistry() *registry {
	return &registry{entries: make(map[uintptr]*Completion)}
}

func (r *registry) add(c *Completion) uintptr {
	id := r.seq.Add(1)
	r.mu.Lock()
	r.entries[id] = c
	r.mu.Unlock()
	return id
}

func (r *registry) lookup(id uintptr) *Completion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// remove reports whether id was still registered.
func (r *registry) remove(id uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

var completions = newRegistry()

// Pending returns the number of completions still registered with the
// trampoline.
func Pending() int { return completions.len() }
