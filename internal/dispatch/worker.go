package dispatch

import (
	"context"
	"errors"
	"time"

	"dispatchd/internal/domain"
)

// run is the worker loop: drain the FIFO, and on idle ticks run the health
// monitor plus, for leads, topology supervision and migration evaluation.
// Shutdown is cooperative, checked every iteration; no query is dropped
// mid-execution.
func (q *Queue) run() {
	defer close(q.done)
	q.logger.Debug("worker started", "role", string(q.role))

	timer := time.NewTimer(q.opts.PollInterval)
	defer timer.Stop()

	for {
		timer.Reset(q.opts.PollInterval)
		select {
		case <-q.shutdown:
			q.releaseConn()
			q.logger.Debug("worker stopped")
			return
		case query := <-q.fifo:
			q.execute(query)
		case <-timer.C:
			q.idle()
		}
	}
}

func (q *Queue) idle() {
	if q.heartbeatDue() {
		q.heartbeat()
	}
	if q.role == RoleLead {
		q.supervise()
		q.migrationCycle()
	}
}

// execute runs one dequeued query on the persistent connection and delivers
// the outcome to the pending registry. The connection guard is held for the
// whole acquire-validate-execute sequence and released before signaling.
func (q *Queue) execute(query *domain.Query) {
	q.executing.Store(true)
	defer q.executing.Store(false)
	defer q.touch()

	ctx := context.Background()
	start := time.Now()

	if q.workload == domain.WorkloadCache && query.CacheKey != 0 {
		if res := q.cachedResult(query.CacheKey); res != nil {
			hit := *res
			hit.FromCache = true
			hit.Duration = time.Since(start)
			q.deliver(query, domain.Outcome{Result: &hit}, start)
			return
		}
	}

	q.connMu.Lock()
	var out domain.Outcome
	conn, err := q.ensureConnLocked(ctx)
	if err != nil {
		query.RetryCount++
		query.LastError = err.Error()
		out.Err = err
	} else {
		res, execErr := conn.Execute(ctx, query.SQL, query.Params)
		if execErr != nil {
			query.RetryCount++
			query.LastError = execErr.Error()
			out.Err = execErr
			var connErr *domain.ConnectivityError
			if errors.As(execErr, &connErr) {
				q.dropConnLocked()
			}
		} else {
			res.Duration = time.Since(start)
			out.Result = res
		}
	}
	q.connMu.Unlock()

	if out.Result != nil && q.workload == domain.WorkloadCache && query.CacheKey != 0 {
		q.storeCached(query.CacheKey, out.Result)
	}

	q.deliver(query, out, start)
}

// deliver hands the outcome to the pending registry and records stats and
// journal entries. Failures are surfaced, never swallowed.
func (q *Queue) deliver(query *domain.Query, out domain.Outcome, start time.Time) {
	q.pending.Signal(query.ID, out)

	duration := time.Since(start)
	ctx := context.Background()
	if out.Err != nil {
		q.stats.RecordFailed(query.Workload)
		if q.journal != nil {
			q.journal.QueryFailed(ctx, query.ID, out.Err.Error(), duration)
		}
		q.logger.Debug("query failed",
			"query_id", query.ID, "error", out.Err.Error(), "duration_ms", duration.Milliseconds())
		return
	}

	q.stats.RecordCompleted(query.Workload, duration)
	if q.journal != nil {
		q.journal.QueryCompleted(ctx, query.ID, duration)
	}
	q.logger.Debug("query completed",
		"query_id", query.ID, "rows", out.Result.RowCount, "duration_ms", duration.Milliseconds())
}
