// Package app provides application-level wiring for the dispatch service:
// engines, queue manager, journal, maintenance scheduler, and HTTP handler.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/robfig/cron/v3"

	"dispatchd/internal/api"
	"dispatchd/internal/config"
	"dispatchd/internal/dispatch"
	"dispatchd/internal/domain"
	"dispatchd/internal/engine"
	"dispatchd/internal/journal"
	"dispatchd/internal/pending"
)

// Deps holds the external dependencies main() must provide.
type Deps struct {
	Cfg       *config.Config
	Databases []config.DatabaseConfig
	Logger    *slog.Logger
}

// App is the fully wired application.
type App struct {
	Manager *dispatch.Manager
	Journal *journal.Journal // nil when disabled
	Handler http.Handler

	cron   *cron.Cron
	logger *slog.Logger
	cfg    *config.Config
}

// New wires engines, journal, pending registry, manager, and HTTP handler
// from the provided deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	engines := engine.NewRegistry()
	engines.Register(engine.NewSQLite())
	engines.Register(engine.NewDuckDB())

	var jnl *journal.Journal
	if cfg.MetaDBPath != "" {
		j, err := journal.Open(cfg.MetaDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open query journal: %w", err)
		}
		jnl = j
	}

	specs := make([]dispatch.DatabaseSpec, 0, len(deps.Databases))
	for _, d := range deps.Databases {
		workers := make([]domain.Workload, 0, len(d.Workers))
		for _, w := range d.Workers {
			workers = append(workers, domain.Workload(w))
		}
		specs = append(specs, dispatch.DatabaseSpec{
			Name:               d.Name,
			Engine:             d.Engine,
			DSN:                d.DSN,
			Workers:            workers,
			AutoMigrate:        d.AutoMigrate,
			MigrationsDir:      d.MigrationsDir,
			MigrationThreshold: d.MigrationThreshold,
		})
	}

	pnd := pending.NewRegistry(logger)
	opts := dispatch.Options{
		HeartbeatInterval:   cfg.HeartbeatInterval,
		PollInterval:        cfg.PollInterval,
		RetireAfter:         cfg.RetireAfter,
		QueueDepth:          cfg.QueueDepth,
		DefaultQueryTimeout: cfg.DefaultQueryTimeout,
	}

	var recorder dispatch.Recorder
	if jnl != nil {
		recorder = jnl
	}

	manager, err := dispatch.NewManager(engines, specs, opts, pnd, recorder, logger)
	if err != nil {
		if jnl != nil {
			_ = jnl.Close()
		}
		return nil, err
	}

	app := &App{
		Manager: manager,
		Journal: jnl,
		Handler: api.NewHandler(manager, jnl, logger).Routes(),
		cron:    cron.New(),
		logger:  logger.With("component", "app"),
		cfg:     cfg,
	}
	if err := app.scheduleMaintenance(); err != nil {
		if jnl != nil {
			_ = jnl.Close()
		}
		return nil, err
	}
	return app, nil
}

// scheduleMaintenance registers the periodic expired-result sweep and, when
// journaling is on, the daily journal prune.
func (a *App) scheduleMaintenance() error {
	sweep := fmt.Sprintf("@every %s", a.cfg.CleanupInterval)
	if _, err := a.cron.AddFunc(sweep, func() {
		if n := a.Manager.CleanupExpired(); n > 0 {
			a.logger.Debug("expired pending results swept", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup sweep: %w", err)
	}

	if a.Journal != nil {
		if _, err := a.cron.AddFunc("@daily", func() {
			if _, err := a.Journal.Prune(context.Background(), a.cfg.JournalRetention); err != nil {
				a.logger.Warn("journal prune failed", "error", err.Error())
			}
		}); err != nil {
			return fmt.Errorf("schedule journal prune: %w", err)
		}
	}
	return nil
}

// Start launches the queue workers and the maintenance scheduler.
func (a *App) Start() {
	a.Manager.Start()
	a.cron.Start()
	a.logger.Info("application started")
}

// Shutdown stops maintenance, drains and joins all queue workers, and
// closes the journal.
func (a *App) Shutdown(ctx context.Context) error {
	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	err := a.Manager.Shutdown(ctx)
	if a.Journal != nil {
		if closeErr := a.Journal.Close(); err == nil {
			err = closeErr
		}
	}
	a.logger.Info("application stopped")
	return err
}
