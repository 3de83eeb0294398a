// Package migrations applies the embedded monitor_feed schema with
// golang-migrate. Native crawler tables are owned by the crawler and are not
// migrated here.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Postgres applies all pending Postgres migrations and returns the resulting
// version.
func Postgres(db *sql.DB) (uint, bool, error) {
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("create pgx migrate driver: %w", err)
	}
	return up(postgresFS, "postgres", "pgx5", driver)
}

// SQLite applies all pending SQLite migrations and returns the resulting
// version.
func SQLite(db *sql.DB) (uint, bool, error) {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	return up(sqliteFS, "sqlite", "sqlite", driver)
}

func up(fsys embed.FS, dir, name string, driver database.Driver) (uint, bool, error) {
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return 0, false, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, name, driver)
	if err != nil {
		return 0, false, fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}
