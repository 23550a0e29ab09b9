package journal

import "embed"

// embedMigrations contains the embedded SQL migration files for the
// journal metastore.
//
//go:embed migrations/*.sql
var embedMigrations embed.FS
