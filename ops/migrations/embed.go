// Package migrations ships the SQL schema and seed files with the binaries.
package migrations

import "embed"

//go:embed sql/*.sql seeds/*.sql
var FS embed.FS

const (
	SQLDir   = "sql"
	SeedsDir = "seeds"
)
