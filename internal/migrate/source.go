package migrate

import "context"

// Script is one discovered migration, already evaluated into executable
// statements, ordered by version.
type Script struct {
	Version    int64
	Name       string
	Statements []string
}

// Source is the discovery/scripting capability: it finds migration scripts
// for a database and turns them into SQL statements. Implementations must
// return scripts in ascending version order.
type Source interface {
	// Available returns the highest discoverable migration version,
	// or 0 when none exist.
	Available(ctx context.Context) (int64, error)

	// Load evaluates every script with a version greater than after.
	Load(ctx context.Context, after int64) ([]Script, error)
}
