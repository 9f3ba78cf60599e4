// Package migrations embeds the SQLite schema so the binary can create the
// configuration tables without the .sql files on disk.
package migrations

import "embed"

// FS holds the *.up.sql files, passed to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
