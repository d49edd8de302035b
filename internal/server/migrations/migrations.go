// Package migrations embeds the goose SQL migrations that provision the
// session subsystem's schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
