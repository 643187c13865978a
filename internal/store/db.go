// Package store implements the relational backends of the remote store:
// a sqlite file shared by local daemons and a Postgres database. Both
// speak the same generic record/filter/subscription operations.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/matheus3301/chatterbox/internal/bus"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Dialect names, matching the database/sql driver names.
const (
	SQLite   = "sqlite3"
	Postgres = "postgres"
)

// DB wraps a relational connection and implements remote.Store.
type DB struct {
	*sqlx.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string, b *bus.Bus, logger *zap.Logger) (*DB, error) {
	db, err := sqlx.Open(SQLite, path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return newDB(db, b, logger), nil
}

// OpenPostgres connects to a Postgres database by DSN.
func OpenPostgres(dsn string, b *bus.Bus, logger *zap.Logger) (*DB, error) {
	db, err := sqlx.Open(Postgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newDB(db, b, logger), nil
}

func newDB(db *sqlx.DB, b *bus.Bus, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	return &DB{DB: db, bus: b, logger: logger.With(zap.String("component", "store"))}
}

// Dialect returns SQLite or Postgres.
func (db *DB) Dialect() string {
	return db.DriverName()
}

// Bus returns the bus change events are published on.
func (db *DB) Bus() *bus.Bus {
	return db.bus
}
