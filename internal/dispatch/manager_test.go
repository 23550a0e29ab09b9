package dispatch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/domain"
	"dispatchd/internal/engine"
	"dispatchd/internal/pending"
)

func newTestManager(t *testing.T, eng *fakeEngine, workers []domain.Workload) *Manager {
	t.Helper()
	engines := engine.NewRegistry()
	engines.Register(eng)

	specs := []DatabaseSpec{{
		Name:    "orders",
		Engine:  eng.Name(),
		DSN:     "dsn",
		Workers: workers,
	}}
	m, err := NewManager(engines, specs, testOpts(), pending.NewRegistry(slog.Default()), nil, slog.Default())
	require.NoError(t, err)
	return m
}

func TestNewManagerRejectsDuplicateDatabase(t *testing.T) {
	engines := engine.NewRegistry()
	engines.Register(&fakeEngine{})

	specs := []DatabaseSpec{
		{Name: "orders", Engine: "fake", DSN: "a"},
		{Name: "orders", Engine: "fake", DSN: "b"},
	}
	_, err := NewManager(engines, specs, testOpts(), pending.NewRegistry(slog.Default()), nil, slog.Default())
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewManagerRejectsUnknownEngine(t *testing.T) {
	specs := []DatabaseSpec{{Name: "orders", Engine: "oracle", DSN: "dsn"}}
	_, err := NewManager(engine.NewRegistry(), specs, testOpts(), pending.NewRegistry(slog.Default()), nil, slog.Default())
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSubmitValidation(t *testing.T) {
	m := newTestManager(t, &fakeEngine{}, nil)

	t.Run("empty_sql", func(t *testing.T) {
		_, err := m.Submit(context.Background(), "orders", "", "", nil)
		var cfgErr *domain.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("unknown_database", func(t *testing.T) {
		_, err := m.Submit(context.Background(), "nope", "", "SELECT 1", nil)
		var cfgErr *domain.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestSubmitAndAwait(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestManager(t, eng, nil)
	m.Start()
	defer func() { require.NoError(t, m.Shutdown(context.Background())) }()

	// No fast worker exists; the hint still dispatches, on the lead.
	id, err := m.Submit(context.Background(), "orders", "Fast", "SELECT 1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := m.Await(id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.False(t, res.FromCache)

	snap := m.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Submitted)
	assert.Equal(t, int64(1), snap.Completed)
	assert.Equal(t, int64(1), snap.Workloads[string(domain.WorkloadFast)].Submitted)
}

func TestAwaitUnknownQuery(t *testing.T) {
	m := newTestManager(t, &fakeEngine{}, nil)

	_, err := m.Await("missing", time.Second)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestAwaitTimeoutCountsAndLeavesQueryRunning(t *testing.T) {
	m := newTestManager(t, &fakeEngine{}, nil)
	// Manager not started: the query sits in the FIFO forever.

	id, err := m.Submit(context.Background(), "orders", "", "SELECT 1", nil)
	require.NoError(t, err)

	_, err = m.Await(id, 20*time.Millisecond)
	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, int64(1), m.Stats().Snapshot().TimedOut)

	lead, ok := m.Lead("orders")
	require.True(t, ok)
	assert.Equal(t, 1, lead.Depth(), "timed-out query stays queued")
}

func TestSupervisionSpawnsConfiguredWorkersAndRoutes(t *testing.T) {
	eng := &fakeEngine{}
	m := newTestManager(t, eng, []domain.Workload{domain.WorkloadCache})
	m.Start()
	defer func() { require.NoError(t, m.Shutdown(context.Background())) }()

	lead, ok := m.Lead("orders")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := lead.Workers()[domain.WorkloadCache]
		return ok
	}, 2*time.Second, 10*time.Millisecond, "supervision should spawn the cache worker")

	const sqlText = "SELECT count(*) FROM orders"
	run := func() *domain.Result {
		t.Helper()
		id, err := m.Submit(context.Background(), "orders", "cache", sqlText, nil)
		require.NoError(t, err)
		res, err := m.Await(id, 2*time.Second)
		require.NoError(t, err)
		return res
	}

	assert.False(t, run().FromCache)
	assert.True(t, run().FromCache)
	assert.Equal(t, 1, eng.execCalls())
}

func TestStatusSnapshot(t *testing.T) {
	m := newTestManager(t, &fakeEngine{}, nil)

	snap := m.Status()
	require.Len(t, snap.Databases, 1)
	db := snap.Databases[0]
	assert.Equal(t, "orders", db.Name)
	assert.Equal(t, "fake", db.Engine)
	assert.Nil(t, db.Migration)
	require.Len(t, db.Queues, 1)
	assert.Equal(t, string(RoleLead), db.Queues[0].Role)
	assert.Equal(t, []string{"orders"}, m.DatabaseNames())
}

func TestShutdownStopsLeadsAndWorkers(t *testing.T) {
	m := newTestManager(t, &fakeEngine{}, []domain.Workload{domain.WorkloadFast})
	m.Start()

	lead, ok := m.Lead("orders")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return len(lead.Workers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, lead.Workers())
}
