// Package sqlite provides a SQLite-backed Store implementation for
// single-node deployments that want durability without an external
// database server (spec §6.3).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/dnlfm/done/store"
)

// compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store directly against database/sql, with its own
// hand-rolled schema bootstrap rather than an ORM.
type Store struct {
	db *sql.DB
}

// New opens a SQLite database at dsn (a file path, or ":memory:") and
// configures it for single-writer/concurrent-reader use.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("done/sqlite: open: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY under concurrent
	// writes; WAL lets readers proceed without blocking on it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("done/sqlite: configure pragmas: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
