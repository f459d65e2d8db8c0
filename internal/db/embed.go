package db

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed migrations
var migrationsFS embed.FS

// DevMode switches getMigrationsFS to read migration files from the working
// tree instead of the embedded copy, so schema work does not need a rebuild
// for every edit.
var DevMode = false

// getMigrationsFS returns the migration files as a filesystem rooted at the
// directory that holds the .sql pairs.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/db/migrations"), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}
