package sqlite

import (
	"context"
	"time"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/queue"
)

// Enqueue persists evt, visible for consumption after delay has elapsed.
func (s *Store) Enqueue(ctx context.Context, evt queue.Event, delay time.Duration) error {
	visibleAt := time.Now().UTC()
	if delay > 0 {
		visibleAt = visibleAt.Add(delay)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO queue_events (id, type, object, data, created_at, visible_at, claimed)
VALUES (?, ?, ?, ?, ?, ?, 0)`,
		evt.ID.String(), string(evt.Type), evt.Object, string(evt.Data),
		evt.CreatedAt.UTC().Format(time.RFC3339Nano), visibleAt.Format(time.RFC3339Nano),
	)
	return err
}

// Dequeue claims up to limit visible, unclaimed events inside a transaction
// so two concurrent callers never observe the same row.
func (s *Store) Dequeue(ctx context.Context, limit int) ([]queue.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `SELECT id, type, object, data, created_at FROM queue_events
WHERE claimed = 0 AND visible_at <= ? ORDER BY created_at ASC`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var events []queue.Event
	var claimIDs []string
	for rows.Next() {
		var rawID, typ, object, data, createdAt string
		if err := rows.Scan(&rawID, &typ, &object, &data, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		evtID, err := id.ParseSystemEventID(rawID)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, queue.Event{
			ID:        evtID,
			Type:      queue.EventType(typ),
			Object:    object,
			Data:      []byte(data),
			CreatedAt: ts.UTC(),
		})
		claimIDs = append(claimIDs, rawID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, rawID := range claimIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE queue_events SET claimed = 1 WHERE id = ?`, rawID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if events == nil {
		events = []queue.Event{}
	}
	return events, nil
}

// Ack removes eventID from the queue.
func (s *Store) Ack(ctx context.Context, eventID id.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_events WHERE id = ?`, eventID.String())
	return err
}
