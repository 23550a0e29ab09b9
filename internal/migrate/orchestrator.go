package migrate

import (
	"context"
	"log/slog"
	"sync"

	"dispatchd/internal/domain"
	"dispatchd/internal/engine"
)

// Orchestrator drives the migration state machine for one database. Step is
// only ever called from the owning lead queue's worker goroutine, with the
// queue's connection guard held; the internal mutex exists so status
// snapshots can read markers from other goroutines.
type Orchestrator struct {
	database  string
	source    Source
	threshold int64
	logger    *slog.Logger

	mu      sync.Mutex
	markers Markers
	staged  []Script // loaded but not yet applied, ascending version
	lastErr string
}

// NewOrchestrator creates an orchestrator for database over source.
// A threshold of 0 selects DefaultThreshold.
func NewOrchestrator(database string, source Source, threshold int64, logger *slog.Logger) *Orchestrator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Orchestrator{
		database:  database,
		source:    source,
		threshold: threshold,
		logger:    logger.With("component", "migrate", "database", database),
	}
}

// Markers returns a snapshot of the version markers.
func (o *Orchestrator) Markers() Markers {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.markers
}

// LastError returns the most recent migration failure message, empty when
// the last cycle succeeded.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Step runs one evaluation cycle: refresh the available marker, decide the
// action, and execute it on conn. When autoMigrate is false the action is
// computed and logged but not executed. A load or apply failure leaves the
// markers unchanged so the next cycle retries the same action; it never
// blocks ordinary query traffic.
func (o *Orchestrator) Step(ctx context.Context, conn engine.Conn, autoMigrate bool) error {
	available, err := o.source.Available(ctx)
	if err != nil {
		return o.fail("discover migrations: %v", err)
	}

	o.mu.Lock()
	if available > o.markers.Available {
		o.markers.Available = available
	}
	m := o.markers
	o.mu.Unlock()

	action := Decide(m, o.threshold)
	if action == ActionNone {
		return nil
	}

	if !autoMigrate {
		o.logger.Info("auto-migration disabled, skipping action",
			"action", action.String(),
			"available", m.Available, "loaded", m.Loaded, "applied", m.Applied)
		return nil
	}

	switch action {
	case ActionLoad:
		return o.load(ctx, m)
	case ActionApply:
		return o.apply(ctx, conn, m)
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, m Markers) error {
	scripts, err := o.source.Load(ctx, m.Loaded)
	if err != nil {
		return o.fail("load migrations after %d: %v", m.Loaded, err)
	}
	if len(scripts) == 0 {
		return nil
	}

	highest := scripts[len(scripts)-1].Version

	o.mu.Lock()
	o.staged = append(o.staged, scripts...)
	o.markers.Loaded = highest
	o.lastErr = ""
	o.mu.Unlock()

	o.logger.Info("migrations loaded", "count", len(scripts), "loaded", highest)
	return nil
}

// apply executes every staged statement as a single transaction. The
// applied marker advances only on commit; partial failure leaves it
// untouched and the same apply is retried next cycle.
func (o *Orchestrator) apply(ctx context.Context, conn engine.Conn, m Markers) error {
	if conn == nil {
		return o.fail("apply migrations: no database connection")
	}

	o.mu.Lock()
	staged := make([]Script, len(o.staged))
	copy(staged, o.staged)
	o.mu.Unlock()

	var statements []string
	for _, s := range staged {
		if s.Version <= m.Applied {
			continue
		}
		statements = append(statements, s.Statements...)
	}
	if len(statements) == 0 {
		// Markers say apply but nothing is staged (e.g. restart between
		// load and apply); reload next cycle.
		o.mu.Lock()
		o.markers.Loaded = o.markers.Applied
		o.staged = nil
		o.mu.Unlock()
		return nil
	}

	if err := conn.ExecuteTx(ctx, statements); err != nil {
		return o.fail("apply migrations through %d: %v", m.Loaded, err)
	}

	o.mu.Lock()
	o.markers.Applied = o.markers.Loaded
	o.staged = nil
	o.lastErr = ""
	applied := o.markers.Applied
	o.mu.Unlock()

	o.logger.Info("migrations applied", "applied", applied, "statements", len(statements))
	return nil
}

func (o *Orchestrator) fail(format string, args ...interface{}) error {
	err := domain.ErrMigration(format, args...)
	o.mu.Lock()
	o.lastErr = err.Error()
	o.mu.Unlock()
	o.logger.Warn("migration step failed", "error", err.Error())
	return err
}
