// Package migrations embeds the SQL migrations of the Postgres query catalog.
package migrations

import "embed"

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
