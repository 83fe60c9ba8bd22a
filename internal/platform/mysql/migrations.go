package mysql

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Dialect is the goose dialect for this store.
const Dialect = "mysql"

// Migrations returns the schema migrations rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		// The directory is embedded at build time.
		panic(err)
	}
	return sub
}
