// Package store keeps the local copy of the Slack workspace: channels, users,
// messages, profile links and the sync log.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the SQL backed storage. It is safe for concurrent use; sqlite
// connections are limited to one and serialized by database/sql.
type Store struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

// Open connects to the database, applies migrations and returns a Store.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dsn == "" {
		return nil, errors.New("storage dsn cannot be empty")
	}

	var sqlDriver string
	switch driver {
	case "", DriverSQLite:
		driver, sqlDriver = DriverSQLite, "sqlite"
	case DriverPostgres, "pgx":
		driver, sqlDriver = DriverPostgres, "pgx"
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite doesn't support concurrent writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	if err := applyMigrations(db.DB, driver); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &Store{db: db, driver: driver, logger: logger.With("component", "store")}
	s.logger.InfoContext(ctx, "database ready", "driver", driver)
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyMigrations(db *sql.DB, driver string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	var (
		dbDriver database.Driver
		name     string
	)
	switch driver {
	case DriverPostgres:
		dbDriver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
		name = "pgx5"
	default:
		dbDriver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
		name = "sqlite"
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migration driver: %w", driver, err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, name, dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// rollback aborts tx unless it was already committed.
func (s *Store) rollback(ctx context.Context, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "error rolling back transaction", "error", err)
	}
}
