package dispatch

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/domain"
	"dispatchd/internal/pending"
)

func TestHeartbeatConnectFailureStreak(t *testing.T) {
	eng := &fakeEngine{connectErr: domain.ErrConnectivity("backend down")}
	q := newTestWorker(eng, domain.WorkloadMedium, pending.NewRegistry(slog.Default()), testOpts())

	for i := 1; i <= 3; i++ {
		q.heartbeat()
		assert.Equal(t, i, q.ConsecutiveFailures())
		assert.False(t, q.Connected())
	}

	// Backend comes back: the next heartbeat reconnects, probes, and resets
	// the streak.
	eng.mu.Lock()
	eng.connectErr = nil
	eng.mu.Unlock()

	q.heartbeat()
	assert.Zero(t, q.ConsecutiveFailures())
	assert.True(t, q.Connected())

	q.releaseConn()
}

func TestHeartbeatProbeFailureDropsConnection(t *testing.T) {
	probeErr := domain.ErrConnectivity("probe failed")
	eng := &fakeEngine{pingErrs: []error{probeErr, probeErr}}
	q := newTestWorker(eng, domain.WorkloadMedium, pending.NewRegistry(slog.Default()), testOpts())

	// Each heartbeat reconnects (the previous probe dropped the connection)
	// and fails the probe again.
	q.heartbeat()
	assert.Equal(t, 1, q.ConsecutiveFailures())
	assert.False(t, q.Connected())

	q.heartbeat()
	assert.Equal(t, 2, q.ConsecutiveFailures())

	// Third probe succeeds.
	q.heartbeat()
	assert.Zero(t, q.ConsecutiveFailures())
	assert.True(t, q.Connected())

	eng.mu.Lock()
	connects, closed := eng.connects, eng.closed
	eng.mu.Unlock()
	assert.Equal(t, 3, connects)
	assert.Equal(t, 2, closed)

	q.releaseConn()
}

func TestHeartbeatRecordsTimestamp(t *testing.T) {
	q := newTestWorker(&fakeEngine{}, domain.WorkloadMedium, pending.NewRegistry(slog.Default()), testOpts())
	require.True(t, q.heartbeatDue(), "fresh queue should be due for its first heartbeat")

	before := time.Now()
	q.heartbeat()
	hb := q.LastHeartbeat()
	assert.False(t, hb.Before(before))
	assert.False(t, q.heartbeatDue(), "heartbeat just ran; next one is an interval away")

	q.releaseConn()
}
