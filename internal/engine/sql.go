package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/url"
	"strings"
	"time"

	"dispatchd/internal/domain"
)

// SQLite DSN parameters for production hardening.
const (
	sqliteBusyTimeout = "5000" // 5 seconds
	sqliteSynchronous = "NORMAL"
	sqliteJournalMode = "WAL"

	connectTimeout = 5 * time.Second
)

// sqlEngine implements Engine on top of database/sql for any registered
// driver. Each Connect opens a pool capped at a single connection so queue
// ownership ("at most one live connection") maps directly onto the pool.
type sqlEngine struct {
	name     string
	driver   string
	buildDSN func(string) string
}

// NewSQLite returns an Engine backed by mattn/go-sqlite3. The DSN is a file
// path; WAL journal, busy_timeout and synchronous=NORMAL are applied.
func NewSQLite() Engine {
	return &sqlEngine{name: "sqlite", driver: "sqlite3", buildDSN: sqliteDSN}
}

// NewDuckDB returns an Engine backed by the DuckDB driver. The DSN is a
// database file path, or empty for in-memory.
func NewDuckDB() Engine {
	return &sqlEngine{name: "duckdb", driver: "duckdb", buildDSN: func(dsn string) string { return dsn }}
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_busy_timeout", sqliteBusyTimeout)
	params.Set("_journal_mode", sqliteJournalMode)
	params.Set("_synchronous", sqliteSynchronous)
	params.Set("_foreign_keys", "on")
	return "file:" + path + "?" + params.Encode()
}

func (e *sqlEngine) Name() string { return e.name }

// Connect opens and verifies a single-connection pool for dsn.
func (e *sqlEngine) Connect(ctx context.Context, dsn string) (Conn, error) {
	db, err := sql.Open(e.driver, e.buildDSN(dsn))
	if err != nil {
		return nil, domain.ErrConnectivity("open %s: %v", e.name, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, domain.ErrConnectivity("ping %s: %v", e.name, err)
	}
	return &sqlConn{db: db, engine: e.name}, nil
}

type sqlConn struct {
	db     *sql.DB
	engine string
}

// Execute routes row-producing statements through QueryContext and everything
// else through ExecContext so affected-row counts survive.
func (c *sqlConn) Execute(ctx context.Context, sqlText string, params []interface{}) (*domain.Result, error) {
	if returnsRows(sqlText) {
		rows, err := c.db.QueryContext(ctx, sqlText, params...)
		if err != nil {
			return nil, c.classify(err)
		}
		defer rows.Close() //nolint:errcheck
		result, err := scanRows(rows)
		if err != nil {
			return nil, c.classify(err)
		}
		return result, nil
	}

	res, err := c.db.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return nil, c.classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &domain.Result{AffectedRows: affected}, nil
}

func (c *sqlConn) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return domain.ErrConnectivity("%s ping: %v", c.engine, err)
	}
	return nil
}

// ExecuteTx runs statements in one transaction; any failure rolls back and
// leaves the database untouched.
func (c *sqlConn) ExecuteTx(ctx context.Context, statements []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return c.classify(err)
	}
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return c.classify(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return c.classify(err)
	}
	return nil
}

func (c *sqlConn) Close() error { return c.db.Close() }

// classify maps driver errors into the dispatch error taxonomy. Anything
// that looks like a dead connection is connectivity; the rest is an
// engine-reported execution failure.
func (c *sqlConn) classify(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrConnectivity("%s: %v", c.engine, err)
	}
	return domain.ErrExecution("%s: %v", c.engine, err)
}

// returnsRows reports whether the statement produces a row set.
func returnsRows(sqlText string) bool {
	head := strings.ToUpper(firstWord(sqlText))
	switch head {
	case "SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "DESCRIBE", "VALUES":
		return true
	}
	return false
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// scanRows materializes a *sql.Rows into a Result, converting byte slices to
// strings for JSON serialization.
func scanRows(rows *sql.Rows) (*domain.Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var resultRows [][]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]interface{}, len(vals))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.Result{
		Columns:  cols,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}
