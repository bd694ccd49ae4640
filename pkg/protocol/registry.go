package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps names to standards and settlements
type Registry struct {
	mu          sync.RWMutex
	standards   map[string]Standard
	settlements map[string]Settlement
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		standards:   make(map[string]Standard),
		settlements: make(map[string]Settlement),
	}
}

// RegisterStandard adds or replaces a standard under its name
func (r *Registry) RegisterStandard(s Standard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standards[s.Name()] = s
}

// RegisterSettlement adds or replaces a settlement under its name
func (r *Registry) RegisterSettlement(s Settlement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settlements[s.Name()] = s
}

// Standard returns the standard registered under name
func (r *Registry) Standard(name string) (Standard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.standards[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStandard, name)
	}
	return s, nil
}

// Settlement returns the settlement registered under name
func (r *Registry) Settlement(name string) (Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settlements[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSettlement, name)
	}
	return s, nil
}

// StandardNames lists the registered standards in name order
func (r *Registry) StandardNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.standards))
	for name := range r.standards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
