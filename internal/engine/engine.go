// Package engine abstracts backend query execution behind pluggable engines.
// The dispatch layer only ever sees Engine and Conn; everything
// driver-specific stays here.
package engine

import (
	"context"
	"sort"
	"sync"

	"dispatchd/internal/domain"
)

// Conn is a single persistent backend connection owned by one dispatch queue.
// Implementations must tolerate being called on a connection that has gone
// stale since the last health check: a connectivity error is returned, never
// a panic.
type Conn interface {
	// Execute runs one query and returns rows or an affected-row count.
	Execute(ctx context.Context, sqlText string, params []interface{}) (*domain.Result, error)

	// Ping is the lightweight liveness probe used by the health monitor.
	Ping(ctx context.Context) error

	// ExecuteTx runs the given statements inside a single transaction,
	// rolling back on the first failure.
	ExecuteTx(ctx context.Context, statements []string) error

	Close() error
}

// Engine creates connections for one backend kind.
type Engine interface {
	Name() string
	Connect(ctx context.Context, dsn string) (Conn, error)
}

// Registry maps engine names to registered engines.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds an engine, replacing any previous registration by that name.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
}

// Lookup returns the engine registered under name.
func (r *Registry) Lookup(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	if !ok {
		return nil, domain.ErrConfiguration("unknown database engine %q", name)
	}
	return e, nil
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
