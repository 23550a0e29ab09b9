// Package journal persists a durable record of query lifecycle events in a
// SQLite metastore, separate from any dispatched database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/pressly/goose/v3"

	"dispatchd/internal/domain"
)

// SQLite DSN parameters for production hardening.
const (
	busyTimeout = "5000" // 5 seconds
	synchronous = "NORMAL"
	journalMode = "WAL"
)

// Entry is one journaled query record.
type Entry struct {
	QueryID     string
	Database    string
	Workload    string
	SQL         string
	Status      string
	Error       string
	SubmittedAt time.Time
	CompletedAt *time.Time
	DurationMs  *int64
}

// Journal records query lifecycle events. All writes are best-effort: a
// journaling failure is logged and never propagates into the dispatch path.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal metastore at path and brings its
// schema up to date.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	params := url.Values{}
	params.Set("_busy_timeout", busyTimeout)
	params.Set("_journal_mode", journalMode)
	params.Set("_synchronous", synchronous)
	params.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{db: db, logger: logger.With("component", "journal")}, nil
}

// runMigrations executes all pending goose migrations against the journal
// metastore.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// Close closes the metastore handle.
func (j *Journal) Close() error { return j.db.Close() }

// QuerySubmitted records a freshly routed query.
func (j *Journal) QuerySubmitted(ctx context.Context, database string, q *domain.Query) {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO queries (query_id, database_name, workload, sql_text, status, submitted_at)
		 VALUES (?, ?, ?, ?, 'SUBMITTED', ?)`,
		q.ID, database, string(q.Workload), q.SQL, q.SubmittedAt.UTC())
	if err != nil {
		j.logger.Warn("journal submit failed", "query_id", q.ID, "error", err.Error())
	}
}

// QueryCompleted marks a query as completed.
func (j *Journal) QueryCompleted(ctx context.Context, queryID string, duration time.Duration) {
	_, err := j.db.ExecContext(ctx,
		`UPDATE queries SET status = 'COMPLETED', completed_at = ?, duration_ms = ?
		 WHERE query_id = ?`,
		time.Now().UTC(), duration.Milliseconds(), queryID)
	if err != nil {
		j.logger.Warn("journal complete failed", "query_id", queryID, "error", err.Error())
	}
}

// QueryFailed marks a query as failed with its error message.
func (j *Journal) QueryFailed(ctx context.Context, queryID, errMsg string, duration time.Duration) {
	_, err := j.db.ExecContext(ctx,
		`UPDATE queries SET status = 'FAILED', error = ?, completed_at = ?, duration_ms = ?
		 WHERE query_id = ?`,
		errMsg, time.Now().UTC(), duration.Milliseconds(), queryID)
	if err != nil {
		j.logger.Warn("journal fail failed", "query_id", queryID, "error", err.Error())
	}
}

// Recent returns the most recently submitted entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT query_id, database_name, workload, sql_text, status,
		        COALESCE(error, ''), submitted_at, completed_at, duration_ms
		 FROM queries ORDER BY submitted_at DESC, query_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal recent: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var e Entry
		var completedAt sql.NullTime
		var durationMs sql.NullInt64
		if err := rows.Scan(&e.QueryID, &e.Database, &e.Workload, &e.SQL, &e.Status,
			&e.Error, &e.SubmittedAt, &completedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		if durationMs.Valid {
			d := durationMs.Int64
			e.DurationMs = &d
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries submitted before the retention horizon and returns
// how many were removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM queries WHERE submitted_at < ?`,
		time.Now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("journal prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		j.logger.Info("journal pruned", "removed", n)
	}
	return n, nil
}
