// Package migrations embeds the schema applied at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Ordered lists the migrations in the order they are applied.
var Ordered = []string{
	"001_recordings.up.sql",
	"002_exchanges.up.sql",
}
