package services

import (
	"fmt"
	"sync"
)

// Registry holds the supervisors of a stack, keyed by service label and
// iterable in registration order.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	supervisors map[string]*Supervisor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{supervisors: make(map[string]*Supervisor)}
}

// Register adds a supervisor. Duplicate labels are a programming error
// upstream (config validation rejects them) and are reported as such.
func (r *Registry) Register(s *Supervisor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	label := s.Label()
	if _, exists := r.supervisors[label]; exists {
		return fmt.Errorf("service %q already registered", label)
	}
	r.supervisors[label] = s
	r.order = append(r.order, label)
	return nil
}

// Get returns the supervisor for a label.
func (r *Registry) Get(label string) (*Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.supervisors[label]
	return s, ok
}

// All returns the supervisors in registration order.
func (r *Registry) All() []*Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Supervisor, 0, len(r.order))
	for _, label := range r.order {
		out = append(out, r.supervisors[label])
	}
	return out
}

// Len returns the number of registered supervisors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
