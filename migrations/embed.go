// Package migrations embeds the admin gateway schema so binaries can apply it
// without shipping the SQL files alongside.
package migrations

import "embed"

// FS holds sql/*.up.sql, sql/*.down.sql and seeds/*.sql.
//
//go:embed sql/*.sql seeds/*.sql
var FS embed.FS

const (
	MigrationsDir = "sql"
	SeedsDir      = "seeds"
)
