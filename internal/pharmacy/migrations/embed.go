// Package migrations embeds the pharmacy schema applied with goose at start-up.
package migrations

import "embed"

// FS holds the goose SQL migrations.
//
//go:embed *.sql
var FS embed.FS
