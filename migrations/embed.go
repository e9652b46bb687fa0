// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

// Files holds the numbered up and down scripts.
//
//go:embed *.sql
var Files embed.FS
