// Package migrations embeds the goose migrations for the sqlite-backed
// local storage.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
