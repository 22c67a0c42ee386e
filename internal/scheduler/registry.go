package scheduler

import "sync"

// RunRegistry tracks in-flight passes by key so a scheduled run and a
// manual run-now request can never overlap. Keys are logical pass names;
// evaluation and queue processing share one key because they mutate the
// same queue rows.
type RunRegistry struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewRunRegistry creates an empty registry
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{running: make(map[string]bool)}
}

// TryBegin marks a pass as running. Returns false when a pass with the
// same key is already in flight.
func (r *RunRegistry) TryBegin(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[key] {
		return false
	}
	r.running[key] = true
	return true
}

// End marks a pass as finished
func (r *RunRegistry) End(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, key)
}

// Running reports whether a pass with the key is in flight
func (r *RunRegistry) Running(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[key]
}
