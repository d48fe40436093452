// Package migrations embeds the goose SQL migrations into the binary so the
// API can migrate its schema at startup without the files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
