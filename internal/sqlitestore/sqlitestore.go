// Package sqlitestore backs pricing records and user profiles with an
// embedded SQLite database for single-node deployments and local work.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS pricing_records (
	id           TEXT PRIMARY KEY,
	store_id     TEXT NOT NULL,
	sku          TEXT NOT NULL,
	product_name TEXT NOT NULL,
	price        TEXT NOT NULL,
	price_date   TEXT NOT NULL DEFAULT '',
	currency     TEXT NOT NULL DEFAULT 'USD',
	notes        TEXT NOT NULL DEFAULT '',
	updated_by   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	UNIQUE (store_id, sku)
);
CREATE INDEX IF NOT EXISTS pricing_records_updated_at_idx ON pricing_records (updated_at DESC);
CREATE INDEX IF NOT EXISTS pricing_records_sku_idx ON pricing_records (sku);

CREATE TABLE IF NOT EXISTS users (
	uid            TEXT PRIMARY KEY,
	email          TEXT NOT NULL,
	display_name   TEXT NOT NULL DEFAULT '',
	role           TEXT NOT NULL DEFAULT 'viewer',
	email_verified INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email COLLATE NOCASE);
`

// DB owns the SQLite handle shared by the record and user stores.
type DB struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and applies the schema.
// Write transactions take the database lock up front so concurrent writers
// queue on the busy timeout instead of failing at commit.
func Open(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// Close releases the handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Records returns the pricing record store.
func (d *DB) Records() *RecordStore {
	return &RecordStore{db: d.db}
}

// Users returns the user profile store.
func (d *DB) Users() *UserStore {
	return &UserStore{db: d.db}
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}
