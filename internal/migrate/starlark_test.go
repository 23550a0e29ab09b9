package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/domain"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDirSourceAvailable(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1000_init.star", `statements = ["CREATE TABLE a (id INTEGER)"]`)
	writeScript(t, dir, "2000_add_b.star", `statements = ["CREATE TABLE b (id INTEGER)"]`)
	writeScript(t, dir, "notes.txt", "ignored")
	writeScript(t, dir, "draft.star", "ignored = True")

	s := NewDirSource(dir, "sqlite")
	v, err := s.Available(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), v)
}

func TestDirSourceAvailableMissingDir(t *testing.T) {
	s := NewDirSource(filepath.Join(t.TempDir(), "nope"), "sqlite")
	v, err := s.Available(context.Background())
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestDirSourceLoadListExport(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1000_init.star", `
statements = [
    "CREATE TABLE orders (id INTEGER PRIMARY KEY)",
    "CREATE INDEX idx_orders_id ON orders (id)",
]
`)

	s := NewDirSource(dir, "sqlite")
	scripts, err := s.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, int64(1000), scripts[0].Version)
	assert.Equal(t, "init", scripts[0].Name)
	assert.Len(t, scripts[0].Statements, 2)
}

func TestDirSourceLoadCallableExportSeesEngine(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1000_pragmas.star", `
def statements():
    if engine == "sqlite":
        return ["PRAGMA user_version = 1"]
    return ["SET threads TO 4"]
`)

	sqlite := NewDirSource(dir, "sqlite")
	scripts, err := sqlite.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, []string{"PRAGMA user_version = 1"}, scripts[0].Statements)

	duckdb := NewDirSource(dir, "duckdb")
	scripts, err = duckdb.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, []string{"SET threads TO 4"}, scripts[0].Statements)
}

func TestDirSourceLoadSkipsOldVersions(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1000_init.star", `statements = ["a"]`)
	writeScript(t, dir, "2000_next.star", `statements = ["b"]`)
	writeScript(t, dir, "3000_last.star", `statements = ["c"]`)

	s := NewDirSource(dir, "sqlite")
	scripts, err := s.Load(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, int64(2000), scripts[0].Version)
	assert.Equal(t, int64(3000), scripts[1].Version)
}

func TestDirSourceLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax_error", `statements = [`},
		{"missing_export", `other = ["a"]`},
		{"wrong_type", `statements = "not a list"`},
		{"non_string_element", `statements = ["ok", 42]`},
		{"runaway_loop", `
def statements():
    total = 0
    for i in range(1000000000):
        total += i
    return []
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeScript(t, dir, "1000_bad.star", tt.body)

			s := NewDirSource(dir, "sqlite")
			_, err := s.Load(context.Background(), 0)
			var migrationErr *domain.MigrationError
			assert.ErrorAs(t, err, &migrationErr)
		})
	}
}
