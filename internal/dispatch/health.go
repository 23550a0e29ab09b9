package dispatch

import (
	"context"
	"time"

	"dispatchd/internal/engine"
)

const probeTimeout = 5 * time.Second

func (q *Queue) heartbeatDue() bool {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return time.Since(q.lastHeartbeat) >= q.opts.HeartbeatInterval
}

// heartbeat is the connection health monitor: reconnect when disconnected,
// otherwise probe liveness. The fixed heartbeat interval is the only retry
// throttle; consecutiveFailures is exposed for observability but does not
// change scheduling.
func (q *Queue) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	q.connMu.Lock()
	defer q.connMu.Unlock()

	q.stateMu.Lock()
	q.lastHeartbeat = time.Now()
	q.stateMu.Unlock()

	if q.conn == nil {
		if _, err := q.ensureConnLocked(ctx); err != nil {
			q.logger.Debug("reconnect failed", "error", err.Error())
			return
		}
		q.logger.Info("connection established")
	}

	if err := q.conn.Ping(ctx); err != nil {
		q.stateMu.Lock()
		q.consecutiveFailures++
		q.connected = false
		failures := q.consecutiveFailures
		q.stateMu.Unlock()

		q.dropConnLocked()
		q.logger.Warn("liveness probe failed",
			"consecutive_failures", failures, "error", err.Error())
		return
	}

	q.stateMu.Lock()
	q.consecutiveFailures = 0
	q.connected = true
	q.stateMu.Unlock()
}

// ensureConnLocked returns the persistent connection, attempting a single
// reconnect when absent. Caller must hold connMu.
func (q *Queue) ensureConnLocked(ctx context.Context) (engine.Conn, error) {
	if q.conn != nil {
		return q.conn, nil
	}

	q.stateMu.Lock()
	q.lastConnAttempt = time.Now()
	q.stateMu.Unlock()

	conn, err := q.eng.Connect(ctx, q.dsn)
	if err != nil {
		q.stateMu.Lock()
		q.consecutiveFailures++
		q.connected = false
		q.stateMu.Unlock()
		return nil, err
	}

	q.conn = conn
	q.stateMu.Lock()
	q.connected = true
	q.stateMu.Unlock()
	return conn, nil
}

// dropConnLocked closes and forgets a stale connection. Caller must hold
// connMu.
func (q *Queue) dropConnLocked() {
	if q.conn == nil {
		return
	}
	if err := q.conn.Close(); err != nil {
		q.logger.Debug("closing stale connection", "error", err.Error())
	}
	q.conn = nil
	q.stateMu.Lock()
	q.connected = false
	q.stateMu.Unlock()
}

// releaseConn drops the connection at shutdown.
func (q *Queue) releaseConn() {
	q.connMu.Lock()
	defer q.connMu.Unlock()
	q.dropConnLocked()
}
