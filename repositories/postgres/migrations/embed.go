package migrations

import "embed"

// FS contains the embedded goose migrations for the Postgres stores.
//
//go:embed *.sql
var FS embed.FS
