package agent

import (
	"context"
	"fmt"
	"sync"
)

// Runtime hosts a set of agents in one process: registration, lookup,
// message routing and lifecycle in registration order.
//
// Runtime is safe for concurrent use.
type Runtime struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	order   []string
	started bool
}

// NewRuntime creates an empty runtime.
func NewRuntime() *Runtime {
	return &Runtime{agents: make(map[string]*Agent)}
}

// Register adds an agent. Names are unique within a runtime.
func (r *Runtime) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %s already registered", name)
	}
	r.agents[name] = a
	r.order = append(r.order, name)
	return nil
}

// Unregister removes an agent without stopping it.
func (r *Runtime) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; !exists {
		return fmt.Errorf("agent %s not found", name)
	}
	delete(r.agents, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a registered agent by name.
func (r *Runtime) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.agents[name]
	if !exists {
		return nil, fmt.Errorf("agent %s not found", name)
	}
	return a, nil
}

// List returns all registered agent names in registration order.
func (r *Runtime) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Send routes a trigger to the named agent's mailbox.
func (r *Runtime) Send(target, trigger string, payload map[string]any) error {
	a, err := r.Get(target)
	if err != nil {
		return err
	}
	return a.Send(trigger, payload)
}

// Broadcast sends a trigger to every registered agent. The first routing
// error is returned after all sends were attempted.
func (r *Runtime) Broadcast(trigger string, payload map[string]any) error {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		agents = append(agents, r.agents[name])
	}
	r.mu.RUnlock()

	var firstErr error
	for _, a := range agents {
		if err := a.Send(trigger, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Start starts all registered agents in registration order.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runtime already started")
	}
	r.started = true
	agents := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		agents = append(agents, r.agents[name])
	}
	r.mu.Unlock()

	for _, a := range agents {
		if err := a.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts all agents down concurrently and returns the first error.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return fmt.Errorf("runtime not started")
	}
	r.started = false
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, a := range agents {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			if err := a.Stop(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()
	return firstErr
}
