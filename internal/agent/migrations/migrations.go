// Package migrations embeds the goose migrations of the agent's local SQLite
// database (staged blobs and drafts).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
