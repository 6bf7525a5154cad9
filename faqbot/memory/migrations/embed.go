package migrations

import "embed"

// FS holds the goose SQL migrations for the document store.
//
//go:embed *.sql
var FS embed.FS
