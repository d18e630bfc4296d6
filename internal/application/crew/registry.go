package crew

import (
	"fmt"
	"sync"

	"github.com/ametller/crewd/pkg/ports"
)

// Registry holds the executors available to crews, keyed by name.
// Registration order is preserved so delegation candidate lists are stable.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ports.Executor
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]ports.Executor)}
}

// Register adds an executor. Names are unique.
func (r *Registry) Register(e ports.Executor) error {
	name := e.Name()
	if name == "" {
		return fmt.Errorf("executor name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executors[name]; ok {
		return fmt.Errorf("executor %q already registered", name)
	}
	r.executors[name] = e
	r.order = append(r.order, name)
	return nil
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (ports.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// Names returns executor names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Delegator returns the named executor if it supports delegation.
func (r *Registry) Delegator(name string) (ports.Delegator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, false
	}
	d, ok := e.(ports.Delegator)
	return d, ok
}
