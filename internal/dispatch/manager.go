package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatchd/internal/domain"
	"dispatchd/internal/engine"
	"dispatchd/internal/migrate"
	"dispatchd/internal/pending"
)

// DatabaseSpec describes one registered database.
type DatabaseSpec struct {
	Name               string
	Engine             string
	DSN                string
	Workers            []domain.Workload
	AutoMigrate        bool
	MigrationsDir      string
	MigrationThreshold int64
}

// Manager is the top-level registry mapping database names to lead queues.
// The set of databases is fixed at startup.
type Manager struct {
	opts    Options
	pending *pending.Registry
	stats   *Stats
	journal Recorder
	logger  *slog.Logger

	mu    sync.RWMutex
	leads map[string]*Queue
}

// NewManager builds lead queues for every configured database. Worker
// queues are spawned later by each lead's topology supervision.
func NewManager(engines *engine.Registry, specs []DatabaseSpec, opts Options,
	pnd *pending.Registry, journal Recorder, logger *slog.Logger) (*Manager, error) {

	opts = opts.withDefaults()
	m := &Manager{
		opts:    opts,
		pending: pnd,
		stats:   NewStats(),
		journal: journal,
		logger:  logger.With("component", "manager"),
		leads:   make(map[string]*Queue),
	}

	for _, spec := range specs {
		if _, dup := m.leads[spec.Name]; dup {
			return nil, domain.ErrConfiguration("database %q configured twice", spec.Name)
		}
		eng, err := engines.Lookup(spec.Engine)
		if err != nil {
			return nil, err
		}

		var migrator *migrate.Orchestrator
		if spec.MigrationsDir != "" {
			source := migrate.NewDirSource(spec.MigrationsDir, spec.Engine)
			migrator = migrate.NewOrchestrator(spec.Name, source, spec.MigrationThreshold, logger)
		}

		lead := newLead(spec.Name, eng, spec.DSN, spec.Workers,
			migrator, spec.AutoMigrate, opts, pnd, m.stats, journal, logger)
		m.leads[spec.Name] = lead
	}

	return m, nil
}

// Stats exposes the aggregate counters.
func (m *Manager) Stats() *Stats { return m.stats }

// Lead returns the lead queue for a database, mainly for tests and status.
func (m *Manager) Lead(database string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lead, ok := m.leads[database]
	return lead, ok
}

// Start launches every lead queue's worker goroutine.
func (m *Manager) Start() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, lead := range m.leads {
		lead.Start()
	}
	m.logger.Info("dispatch manager started", "databases", len(m.leads))
}

// Submit routes a query to the appropriate queue and registers its pending
// result. It returns the query id the caller can await.
func (m *Manager) Submit(ctx context.Context, database, workloadHint, sqlText string, params []interface{}) (string, error) {
	if sqlText == "" {
		return "", domain.ErrConfiguration("sql text is required")
	}

	m.mu.RLock()
	lead, ok := m.leads[database]
	m.mu.RUnlock()
	if !ok {
		return "", domain.ErrConfiguration("unknown database %q", database)
	}

	w := domain.ParseWorkload(workloadHint)
	query := &domain.Query{
		ID:          uuid.NewString(),
		SQL:         sqlText,
		Params:      params,
		Workload:    w,
		SubmittedAt: time.Now(),
	}
	if w == domain.WorkloadCache {
		query.CacheKey = domain.CacheKey(sqlText, params)
	}

	// Register before enqueue so a fast worker cannot signal into a void.
	if _, err := m.pending.Register(query.ID, m.opts.DefaultQueryTimeout); err != nil {
		return "", err
	}

	target := lead.route(w)
	if err := target.Enqueue(query); err != nil {
		m.pending.Remove(query.ID)
		return "", err
	}

	m.stats.RecordSubmitted(w)
	if m.journal != nil {
		m.journal.QuerySubmitted(ctx, database, query)
	}

	m.logger.Debug("query submitted",
		"query_id", query.ID, "database", database,
		"workload", string(w), "queue", string(target.Workload()))
	return query.ID, nil
}

// Await blocks until the query's result arrives or the timeout elapses.
// The underlying query keeps executing after a timeout; its late result is
// discarded.
func (m *Manager) Await(queryID string, timeout time.Duration) (*domain.Result, error) {
	out, err := m.pending.Await(queryID, timeout)
	if err != nil {
		var timedOut *domain.TimeoutError
		if errors.As(err, &timedOut) {
			m.stats.RecordTimeout()
		}
		return nil, err
	}
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Result, nil
}

// CleanupExpired sweeps the pending-result registry.
func (m *Manager) CleanupExpired() int {
	return m.pending.CleanupExpired()
}

// Shutdown cooperatively stops every lead (each joins its workers first)
// and then reaps any still-waiting pending results.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	leads := make([]*Queue, 0, len(m.leads))
	for _, lead := range m.leads {
		leads = append(leads, lead)
	}
	m.mu.RUnlock()

	stopped := make(chan struct{})
	go func() {
		for _, lead := range leads {
			lead.Stop()
		}
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.pending.CleanupExpired()
	m.logger.Info("dispatch manager stopped")
	return nil
}

// DatabaseNames returns the registered database names, sorted.
func (m *Manager) DatabaseNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.leads))
	for name := range m.leads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
