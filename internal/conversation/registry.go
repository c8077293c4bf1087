package conversation

import (
	"sort"
	"sync"
	"time"
)

// Registry owns the State of every live connection.
type Registry struct {
	mu         sync.Mutex
	states     map[string]*State
	maxHistory int
	now        func() time.Time
}

// NewRegistry creates an empty registry whose states keep maxHistory turns.
func NewRegistry(maxHistory int) *Registry {
	return &Registry{
		states:     make(map[string]*State),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

// GetOrCreate returns the state for id, creating it on first use.
func (r *Registry) GetOrCreate(id string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[id]; ok {
		return s
	}
	s := newState(id, r.maxHistory, r.now)
	r.states[id] = s
	return s
}

// Get returns the state for id if it exists.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	return s, ok
}

// Remove discards the state for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.states, id)
	r.mu.Unlock()
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Snapshots lists every tracked state ordered by connection id.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*State, 0, len(r.states))
	for _, s := range r.states {
		list = append(list, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, len(list))
	for i, s := range list {
		out[i] = s.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}
