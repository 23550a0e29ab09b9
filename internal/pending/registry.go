// Package pending bridges asynchronous query execution with blocking
// callers. A worker delivers exactly one outcome per registered query id;
// a caller waits with a wall-clock deadline. Late deliveries after a
// timeout are defined no-ops.
package pending

import (
	"log/slog"
	"sync"
	"time"

	"dispatchd/internal/domain"
)

// State tracks an entry's lifecycle.
type State int

// Entry states.
const (
	StateWaiting State = iota
	StateCompleted
	StateTimedOut
)

// Pending is the correlation record for one in-flight query. The done
// channel is a condvar with a deadline: closed exactly once, by whichever
// of Signal or the timeout path wins the registry lock.
type Pending struct {
	id           string
	registeredAt time.Time
	timeout      time.Duration

	// Guarded by the owning Registry's mutex.
	state   State
	outcome domain.Outcome
	done    chan struct{}
}

// ID returns the query id this entry correlates.
func (p *Pending) ID() string { return p.id }

// Registry is the process-wide table of in-flight pending results.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Pending
	logger  *slog.Logger
}

// NewRegistry creates an empty pending-result registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Pending),
		logger:  logger.With("component", "pending"),
	}
}

// Register creates an entry for id with the given default timeout.
// Returns a ConflictError if an entry already exists for that id.
func (r *Registry) Register(id string, timeout time.Duration) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return nil, domain.ErrConflict("pending result already registered for query %q", id)
	}

	p := &Pending{
		id:           id,
		registeredAt: time.Now(),
		timeout:      timeout,
		state:        StateWaiting,
		done:         make(chan struct{}),
	}
	r.entries[id] = p
	return p, nil
}

// Signal delivers an outcome for id and wakes the waiter. If the entry is
// missing or no longer waiting (already timed out and reaped) the outcome is
// discarded; that is expected after a caller timeout, not an error.
func (r *Registry) Signal(id string, out domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[id]
	if !ok || p.state != StateWaiting {
		r.logger.Debug("discarding result for expired query", "query_id", id)
		return
	}
	p.outcome = out
	p.state = StateCompleted
	close(p.done)
}

// Remove drops the entry for id without signaling, used when a submission
// fails after registration.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Await blocks until the outcome for id arrives or the deadline
// (registration time + timeout) passes. A zero or negative timeout only
// succeeds when the result is already available. Returns a NotFoundError
// for an unknown id and a TimeoutError when the deadline wins.
func (r *Registry) Await(id string, timeout time.Duration) (domain.Outcome, error) {
	r.mu.Lock()
	p, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return domain.Outcome{}, domain.ErrNotFound("no pending result for query %q", id)
	}
	return r.wait(p, p.registeredAt.Add(timeout))
}

// Wait blocks on a handle returned by Register using the entry's own
// timeout.
func (r *Registry) Wait(p *Pending) (domain.Outcome, error) {
	return r.wait(p, p.registeredAt.Add(p.timeout))
}

func (r *Registry) wait(p *Pending, deadline time.Time) (domain.Outcome, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return r.consume(p)
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
	}
	return r.consume(p)
}

// consume resolves an entry under the registry lock: a completed entry
// yields its outcome exactly once; anything else becomes a timeout. The
// entry is removed either way, so whichever of Signal and the deadline lost
// the race finds nothing to act on.
func (r *Registry) consume(p *Pending) (domain.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, p.id)

	if p.state == StateCompleted {
		return p.outcome, nil
	}
	if p.state == StateWaiting {
		p.state = StateTimedOut
		close(p.done)
	}
	return domain.Outcome{}, domain.ErrTimeout("query %q timed out after %s", p.id, time.Since(p.registeredAt).Round(time.Millisecond))
}

// CleanupExpired sweeps entries whose deadline has passed while still
// waiting, marking them timed out. Idempotent; safe to run concurrently
// with Signal — the registry lock decides the winner.
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	reaped := 0
	for id, p := range r.entries {
		if p.state != StateWaiting {
			continue
		}
		if now.Before(p.registeredAt.Add(p.timeout)) {
			continue
		}
		p.state = StateTimedOut
		close(p.done)
		delete(r.entries, id)
		reaped++
	}
	if reaped > 0 {
		r.logger.Debug("reaped expired pending results", "count", reaped)
	}
	return reaped
}

// Len returns the number of outstanding entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
