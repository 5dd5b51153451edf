// Package migrations embeds the SQL schema migrations applied by the db
// migrate command, in lexical order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
