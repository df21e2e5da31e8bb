// Package migrations embeds the station's SQLite schema.
package migrations

import "embed"

// FS holds the NNNN_name.up.sql and NNNN_name.down.sql files.
//
//go:embed *.sql
var FS embed.FS
