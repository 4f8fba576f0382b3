// Package dbx provides the pgx-backed PostgreSQL client and embedded
// migrations used by every component that persists state: the symbol
// registry, the retrieval engine's sparse index, the orchestrator's FSM
// snapshots, and the event bus's durable notify side channel.
//
// It is adapted from tarsy's pkg/database/client.go: tarsy wraps pgx under
// an ent.Client for its ORM layer. ent's client package is generated by
// `go generate` (entc), which this exercise cannot run, so this package
// keeps tarsy's pgx-under-database/sql wiring and migration strategy but
// drops the ent dependency itself — callers get a plain *sql.DB and use
// hand-written SQL (see pkg/registry, pkg/retrieval, pkg/bus).
package dbx

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/aibozo/codeurv2/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB opened through the pgx stdlib driver.
type Client struct {
	db *sql.DB
}

// DB returns the underlying connection pool for direct queries.
func (c *Client) DB() *sql.DB { return c.db }

// Close releases the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens a connection pool, pings it, and applies any pending
// embedded migrations, mirroring tarsy's database.NewClient.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already-open *sql.DB, used by tests that set up
// their own pool (e.g. against a testcontainers Postgres).
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func runMigrations(db *sql.DB) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "codeurv2", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Do not call m.Close(): it closes the shared *sql.DB via postgres.WithInstance.
	return sourceDriver.Close()
}
