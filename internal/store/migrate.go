package store

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/chatterbox/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate runs all pending migrations for the connection's dialect.
func (db *DB) Migrate() (*MigrateResult, error) {
	var (
		files  fs.FS
		dir    string
		driver database.Driver
		err    error
	)
	switch db.Dialect() {
	case SQLite:
		files, dir = migrations.SQLite, "sqlite"
		driver, err = sqlite3.WithInstance(db.DB.DB, &sqlite3.Config{})
	case Postgres:
		files, dir = migrations.Postgres, "postgres"
		driver, err = postgres.WithInstance(db.DB.DB, &postgres.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", db.Dialect())
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	source, err := iofs.New(files, dir)
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, db.Dialect(), driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}
