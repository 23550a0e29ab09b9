package dispatch

import (
	"context"
	"time"

	"dispatchd/internal/domain"
)

// route picks the queue a query should land on: a live worker of the
// matching class when one exists, otherwise the lead itself.
func (q *Queue) route(w domain.Workload) *Queue {
	if q.role != RoleLead {
		return q
	}
	q.childrenMu.Lock()
	defer q.childrenMu.Unlock()
	if c, ok := q.children[w]; ok {
		return c
	}
	return q
}

// supervise runs once per idle cycle on the lead: spawn workers for
// enabled classes that lack one, retire workers idle past the grace
// period. childrenMu is held for structural changes only.
func (q *Queue) supervise() {
	now := time.Now()

	q.childrenMu.Lock()
	defer q.childrenMu.Unlock()

	for _, w := range domain.WorkerWorkloads {
		if q.enabled[w] && q.children[w] == nil {
			q.spawnLocked(w)
		}
	}

	if q.opts.RetireAfter <= 0 {
		return
	}
	for w, c := range q.children {
		if len(c.fifo) > 0 || c.executing.Load() {
			continue
		}
		if c.idleFor(now) < q.opts.RetireAfter {
			continue
		}
		q.retireLocked(w, c)
	}
}

// SpawnWorker creates and starts a typed worker under this lead. Spawning a
// class that already has a live child returns the existing one.
func (q *Queue) SpawnWorker(w domain.Workload) (*Queue, error) {
	if q.role != RoleLead {
		return nil, domain.ErrConfiguration("queue %s/%s cannot spawn workers", q.database, q.workload)
	}
	if !domain.ValidWorkerWorkload(string(w)) {
		return nil, domain.ErrConfiguration("invalid worker workload %q", w)
	}
	q.childrenMu.Lock()
	defer q.childrenMu.Unlock()
	if c, ok := q.children[w]; ok {
		return c, nil
	}
	return q.spawnLocked(w), nil
}

func (q *Queue) spawnLocked(w domain.Workload) *Queue {
	c := newQueue(q.database, RoleWorker, w, q.eng, q.dsn, q.opts, q.pending, q.stats, q.journal, q.baseLogger)
	q.children[w] = c
	c.Start()
	q.logger.Info("worker queue spawned", "workload", string(w))
	return c
}

// RetireWorker shuts down and removes the worker for class w. Retiring a
// worker with queued or in-flight work is refused.
func (q *Queue) RetireWorker(w domain.Workload) error {
	if q.role != RoleLead {
		return domain.ErrConfiguration("queue %s/%s has no workers", q.database, q.workload)
	}
	q.childrenMu.Lock()
	defer q.childrenMu.Unlock()

	c, ok := q.children[w]
	if !ok {
		return domain.ErrNotFound("no %s worker for database %q", w, q.database)
	}
	if len(c.fifo) > 0 || c.executing.Load() {
		return domain.ErrConflict("%s worker for database %q is busy", w, q.database)
	}
	q.retireLocked(w, c)
	return nil
}

// retireLocked signals the child to shut down and joins it before the slot
// is reused. Caller must hold childrenMu.
func (q *Queue) retireLocked(w domain.Workload, c *Queue) {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
	<-c.done
	delete(q.children, w)
	q.logger.Info("worker queue retired", "workload", string(w))
}

// Workers returns the live worker queues, keyed by workload.
func (q *Queue) Workers() map[domain.Workload]*Queue {
	q.childrenMu.Lock()
	defer q.childrenMu.Unlock()
	workers := make(map[domain.Workload]*Queue, len(q.children))
	for w, c := range q.children {
		workers[w] = c
	}
	return workers
}

// migrationCycle evaluates the migration state machine under the same
// connection guard as query execution: the lead's connection is never used
// concurrently for a migration and a regular query.
func (q *Queue) migrationCycle() {
	if q.migrator == nil {
		return
	}

	ctx := context.Background()

	q.connMu.Lock()
	defer q.connMu.Unlock()

	conn, err := q.ensureConnLocked(ctx)
	if err != nil {
		q.logger.Debug("migration cycle skipped, no connection", "error", err.Error())
		return
	}

	// Errors are recorded on the orchestrator and logged there; markers
	// stay unchanged so the next cycle retries the same action.
	_ = q.migrator.Step(ctx, conn, q.autoMigrate)
}
