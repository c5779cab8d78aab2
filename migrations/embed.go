// Package migrations embeds the schema files applied by `careline-server migrate up`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
