// Package migrations embeds the PostgreSQL schema for secure storage.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files, ordered by version prefix
//
//go:embed *.sql
var FS embed.FS
