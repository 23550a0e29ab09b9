package engine

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/domain"
)

func openSQLite(t *testing.T) Conn {
	t.Helper()
	conn, err := NewSQLite().Connect(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, conn.Close()) })
	return conn
}

func TestSQLiteExecuteRoundTrip(t *testing.T) {
	conn := openSQLite(t)
	ctx := context.Background()

	res, err := conn.Execute(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT)", nil)
	require.NoError(t, err)
	assert.Zero(t, res.RowCount)

	res, err = conn.Execute(ctx, "INSERT INTO items (label) VALUES (?), (?)", []interface{}{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.AffectedRows)

	res, err = conn.Execute(ctx, "SELECT id, label FROM items ORDER BY id", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "label"}, res.Columns)
	require.Equal(t, 2, res.RowCount)
	assert.Equal(t, "a", res.Rows[0][1])
	assert.Equal(t, "b", res.Rows[1][1])
}

func TestSQLiteExecuteErrorIsExecution(t *testing.T) {
	conn := openSQLite(t)

	_, err := conn.Execute(context.Background(), "SELECT * FROM absent", nil)
	var execErr *domain.ExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestSQLiteExecuteTxRollsBack(t *testing.T) {
	conn := openSQLite(t)
	ctx := context.Background()

	err := conn.ExecuteTx(ctx, []string{
		"CREATE TABLE t1 (id INTEGER)",
		"THIS IS NOT SQL",
	})
	require.Error(t, err)

	// The first statement must not have survived.
	_, err = conn.Execute(ctx, "SELECT * FROM t1", nil)
	var execErr *domain.ExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestSQLiteExecuteTxCommits(t *testing.T) {
	conn := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, conn.ExecuteTx(ctx, []string{
		"CREATE TABLE t1 (id INTEGER)",
		"INSERT INTO t1 (id) VALUES (1)",
		"", // blanks are skipped
	}))

	res, err := conn.Execute(ctx, "SELECT count(*) FROM t1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0][0])
}

func TestSQLitePing(t *testing.T) {
	conn := openSQLite(t)
	assert.NoError(t, conn.Ping(context.Background()))
}

func TestReturnsRows(t *testing.T) {
	rowProducing := []string{
		"SELECT 1",
		"  select * from t",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"PRAGMA user_version",
		"EXPLAIN SELECT 1",
		"VALUES (1), (2)",
	}
	for _, s := range rowProducing {
		assert.True(t, returnsRows(s), "%q", s)
	}

	statements := []string{
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET a = 1",
		"DELETE FROM t",
		"CREATE TABLE t (id INTEGER)",
		"",
	}
	for _, s := range statements {
		assert.False(t, returnsRows(s), "%q", s)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewSQLite())
	r.Register(NewDuckDB())

	assert.Equal(t, []string{"duckdb", "sqlite"}, r.Names())

	e, err := r.Lookup("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", e.Name())

	_, err = r.Lookup("postgres")
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
