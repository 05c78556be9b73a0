// Package migrations embeds the PostgreSQL schema files applied by the
// migrate command.
package migrations

import "embed"

// FS holds the *.sql migration files in lexical apply order.
//
//go:embed *.sql
var FS embed.FS
