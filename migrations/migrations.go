// Package migrations embeds the SQL schema applied by golang-migrate at startup.
package migrations

import "embed"

// FS holds the migration files, one sub-directory per database driver
//
//go:embed postgres/*.sql
var FS embed.FS
