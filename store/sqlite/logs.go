package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/logstore"
)

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertLogTx(ctx context.Context, tx sqlExecer, action logstore.Action, messageID id.ID, before, after json.RawMessage) error {
	entry := logstore.New(action, "messages", messageID, before, after)
	return insertLog(ctx, tx, entry)
}

func insertLog(ctx context.Context, exec sqlExecer, entry logstore.Entry) error {
	_, err := exec.ExecContext(ctx, `
INSERT INTO logs (id, type, object, message_id, before_data, after_data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), string(entry.Action), entry.Object, entry.MessageID.String(),
		nullJSON(entry.Before), nullJSON(entry.After), entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// Append adds a pre-built log entry (used by callers outside the message
// mutation path, e.g. manual admin actions).
func (s *Store) Append(ctx context.Context, entry logstore.Entry) error {
	return insertLog(ctx, s.db, entry)
}

// FetchByMessageID returns every entry for messageID, ascending by CreatedAt.
func (s *Store) FetchByMessageID(ctx context.Context, messageID id.ID) ([]logstore.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, object, message_id, before_data, after_data, created_at
FROM logs WHERE message_id = ? ORDER BY created_at ASC`, messageID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

// FetchAll returns up to limit entries across all messages, descending by CreatedAt.
func (s *Store) FetchAll(ctx context.Context, limit int) ([]logstore.Entry, error) {
	query := `SELECT id, type, object, message_id, before_data, after_data, created_at FROM logs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

// Truncate deletes every log entry.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM logs`)
	return err
}

func scanLogs(rows *sql.Rows) ([]logstore.Entry, error) {
	result := make([]logstore.Entry, 0)
	for rows.Next() {
		var (
			rawID, action, object, rawMsgID, createdAt string
			before, after                               sql.NullString
		)
		if err := rows.Scan(&rawID, &action, &object, &rawMsgID, &before, &after, &createdAt); err != nil {
			return nil, err
		}

		logID, err := id.ParseLogID(rawID)
		if err != nil {
			return nil, err
		}
		msgID, err := id.ParseMessageID(rawMsgID)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}

		entry := logstore.Entry{
			ID:        logID,
			Action:    logstore.Action(action),
			Object:    object,
			MessageID: msgID,
			CreatedAt: ts.UTC(),
		}
		if before.Valid {
			entry.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			entry.After = json.RawMessage(after.String)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
