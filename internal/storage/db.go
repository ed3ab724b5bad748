package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/activity-tracker/internal/apperr"
)

// SchemaVersion is the schema version Open migrates to.
const SchemaVersion = 2

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a SQLite database holding sessions, samples, events and reports.
type DB struct {
	db *sqlx.DB
}

// Open opens or creates the SQLite database at the given path and migrates
// it to SchemaVersion.
func Open(path string) (*DB, error) {
	d, err := openRaw(path)
	if err != nil {
		return nil, err
	}
	if err := d.migrateTo(SchemaVersion); err != nil {
		d.db.Close()
		return nil, err
	}
	return d, nil
}

func openRaw(path string) (*DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, apperr.ConnectionError(fmt.Errorf("open db: %w", err))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classify(fmt.Errorf("ping db: %w", err))
	}
	return &DB{db: db}, nil
}

// migrateTo applies the embedded up migrations until version is reached.
// Migrations are forward-only.
func (d *DB) migrateTo(version uint) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return apperr.MigrationError(fmt.Errorf("load migrations: %w", err))
	}
	drv, err := migratesqlite.WithInstance(d.db.DB, &migratesqlite.Config{})
	if err != nil {
		return apperr.MigrationError(fmt.Errorf("migration driver: %w", err))
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return apperr.MigrationError(fmt.Errorf("init migrate: %w", err))
	}
	// m.Close would also close the shared *sql.DB.
	defer src.Close()

	if current, dirty, err := m.Version(); err == nil {
		if dirty {
			return apperr.MigrationError(fmt.Errorf("schema version %d is dirty", current))
		}
		if current > version {
			return apperr.MigrationError(fmt.Errorf("schema version %d is newer than supported %d", current, version))
		}
	} else if !errors.Is(err, migrate.ErrNilVersion) {
		return apperr.MigrationError(fmt.Errorf("read schema version: %w", err))
	}

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperr.MigrationError(fmt.Errorf("migrate to %d: %w", version, err))
	}
	return nil
}

// Version returns the current schema version.
func (d *DB) Version(ctx context.Context) (uint, error) {
	var v struct {
		Version uint `db:"version"`
		Dirty   bool `db:"dirty"`
	}
	if err := d.db.GetContext(ctx, &v, "SELECT version, dirty FROM schema_migrations LIMIT 1"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, classify(fmt.Errorf("read schema version: %w", err))
	}
	if v.Dirty {
		return v.Version, apperr.MigrationError(fmt.Errorf("schema version %d is dirty", v.Version))
	}
	return v.Version, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// classify tags SQLite corruption errors so callers treat them as fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB) {
		return apperr.CorruptionError(err)
	}
	return err
}

// inTx runs fn inside a transaction, rolling back on error.
func (d *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}
