// Package migrations embeds the goose SQL migrations for the credential store.
// The same files run unchanged on Postgres and SQLite.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
