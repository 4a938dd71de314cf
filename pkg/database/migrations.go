package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFiles embed.FS

// RunMigrations brings the schema up to date. Migrations are hand-written
// SQL pairs under pkg/database/migrations/, compiled into the binary, so a
// deployment never depends on files lying around on disk.
func RunMigrations(db *sql.DB, databaseName string) error {
	files, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no migration files embedded in binary")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to wrap pool for migrations: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to build migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply pending migrations: %w", err)
	}

	// m.Close would also close the postgres driver, and with it the shared
	// pool the caller handed in. Only the source gets closed here.
	if err := src.Close(); err != nil {
		return fmt.Errorf("failed to release migration source: %w", err)
	}
	return nil
}
