package migrations

import "embed"

// FS contains the SQL migrations of the wallet database.
//
//go:embed *.sql
var FS embed.FS
