package sqlite

import (
	"context"
	"fmt"
	"time"
)

// migration is one forward-only schema step, applied and recorded once.
type migration struct {
	Version string
	Name    string
	Up      string
}

// migrations is the ordered schema history for the done SQLite backend
// (spec §6.3). Each statement uses IF NOT EXISTS so Migrate is idempotent
// even without the migrations table's bookkeeping.
var migrations = []migration{
	{
		Version: "20260101000001",
		Name:    "create_messages",
		Up: `
CREATE TABLE IF NOT EXISTS messages (
    id           TEXT PRIMARY KEY,
    payload      TEXT NOT NULL,
    publish_at   TEXT NOT NULL,
    delivered_at TEXT,
    retry_at     TEXT,
    retried      INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    last_errors  TEXT,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages (status);
CREATE INDEX IF NOT EXISTS idx_messages_publish_at ON messages (publish_at);
`,
	},
	{
		Version: "20260101000002",
		Name:    "create_logs",
		Up: `
CREATE TABLE IF NOT EXISTS logs (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    object      TEXT NOT NULL,
    message_id  TEXT REFERENCES messages(id) ON DELETE CASCADE,
    before_data TEXT,
    after_data  TEXT,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_message_id ON logs (message_id);
CREATE INDEX IF NOT EXISTS idx_logs_type ON logs (type);
CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs (created_at);
`,
	},
	{
		Version: "20260101000003",
		Name:    "create_message_stats",
		Up: `
CREATE TABLE IF NOT EXISTS message_stats (
    date   TEXT NOT NULL,
    hour   INTEGER NOT NULL,
    status TEXT NOT NULL,
    count  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (date, hour, status)
);

-- stats_gauges holds the live, never-historical counters: one row per
-- status plus a "__total__" sentinel for the all-time created count.
-- message_stats above is the per-hour/day trend; this table is the
-- current-state gauge that Decrement can adjust without touching history.
CREATE TABLE IF NOT EXISTS stats_gauges (
    key   TEXT PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0
);
`,
	},
	{
		// The durable queue needs its own table: it is the relational
		// outbox the State Manager polls (spec §4.6), not part of the
		// spec's admin-visible schema, but required to make the queue
		// durable across restarts on this backend.
		Version: "20260101000004",
		Name:    "create_queue_events",
		Up: `
CREATE TABLE IF NOT EXISTS queue_events (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    object     TEXT NOT NULL DEFAULT '',
    data       TEXT NOT NULL,
    created_at TEXT NOT NULL,
    visible_at TEXT NOT NULL,
    claimed    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queue_events_visible ON queue_events (claimed, visible_at);
`,
	},
	{
		Version: "20260101000005",
		Name:    "create_migrations",
		Up: `
CREATE TABLE IF NOT EXISTS migrations (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`,
	},
}

// Migrate applies every migration not yet recorded, in version order. The
// migrations table itself is bootstrapped first since later steps record
// into it.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrations[len(migrations)-1].Up); err != nil {
		return fmt.Errorf("done/sqlite: bootstrap migrations table: %w", err)
	}

	for _, m := range migrations[:len(migrations)-1] {
		applied, err := s.migrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("done/sqlite: migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) migrationApplied(ctx context.Context, version string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM migrations WHERE id = ?`, version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO migrations (id, name, created_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, nowString(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
