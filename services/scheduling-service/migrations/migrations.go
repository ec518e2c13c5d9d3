// Package migrations embeds the service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
