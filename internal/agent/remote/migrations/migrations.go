// Package migrations embeds the goose migrations of the remote Postgres
// schema the agent writes to.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
