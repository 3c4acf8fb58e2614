package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/thomaskoefod/hnpoll/internal/apperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrStoryNotFound = errors.New("story not found")
)

type DB struct {
	*sqlx.DB
	now func() time.Time
}

// New opens the SQLite database at dbPath and applies pending migrations.
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; all pipeline stages share this handle.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}

	d := NewWithDB(conn)
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return d, nil
}

// NewWithDB wraps an existing handle without running migrations.
func NewWithDB(conn *sqlx.DB) *DB {
	return &DB{DB: conn, now: time.Now}
}

// SetClock replaces the time source used for bookkeeping timestamps.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func (db *DB) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.DB.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Reset deletes all stories, run metadata and cached domain verdicts.
func (db *DB) Reset(ctx context.Context) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return persistErr("beginning reset", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"stories", "metadata", "domain_cache"} {
		query, args, err := sq.Delete(table).ToSql()
		if err != nil {
			return fmt.Errorf("building delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return persistErr("clearing "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("committing reset", err)
	}
	return nil
}

func persistErr(op string, err error) error {
	return apperr.New(apperr.Persistence, op, err)
}

func unix(t time.Time) int64 {
	return t.UTC().Unix()
}
