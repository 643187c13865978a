// Package migrations embeds the schema migrations of each SQL dialect.
package migrations

import "embed"

// SQLite holds the sqlite3 migrations under sqlite/.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres holds the postgres migrations under postgres/.
//
//go:embed postgres/*.sql
var Postgres embed.FS
