package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/logstore"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
)

// messageRow mirrors the messages table layout (spec §6.3).
type messageRow struct {
	ID          string
	Payload     []byte
	PublishAt   string
	DeliveredAt sql.NullString
	RetryAt     sql.NullString
	Retried     int
	Status      string
	LastErrors  sql.NullString
	CreatedAt   string
	UpdatedAt   string
}

func scanMessage(row interface{ Scan(dest ...any) error }) (*message.Message, error) {
	var r messageRow
	if err := row.Scan(&r.ID, &r.Payload, &r.PublishAt, &r.DeliveredAt, &r.RetryAt,
		&r.Retried, &r.Status, &r.LastErrors, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return r.toMessage()
}

func (r messageRow) toMessage() (*message.Message, error) {
	msgID, err := id.ParseMessageID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("done/sqlite: parse message id %q: %w", r.ID, err)
	}

	var payload message.Payload
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return nil, fmt.Errorf("done/sqlite: unmarshal payload: %w", err)
	}

	publishAt, err := time.Parse(time.RFC3339Nano, r.PublishAt)
	if err != nil {
		return nil, fmt.Errorf("done/sqlite: parse publish_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("done/sqlite: parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("done/sqlite: parse updated_at: %w", err)
	}
	deliveredAt, err := parseNullTime(r.DeliveredAt)
	if err != nil {
		return nil, fmt.Errorf("done/sqlite: parse delivered_at: %w", err)
	}
	retryAt, err := parseNullTime(r.RetryAt)
	if err != nil {
		return nil, fmt.Errorf("done/sqlite: parse retry_at: %w", err)
	}

	var lastErrors []message.DeliveryError
	if r.LastErrors.Valid && r.LastErrors.String != "" {
		if err := json.Unmarshal([]byte(r.LastErrors.String), &lastErrors); err != nil {
			return nil, fmt.Errorf("done/sqlite: unmarshal last_errors: %w", err)
		}
	}

	m := &message.Message{
		ID:          msgID,
		Payload:     payload,
		PublishAt:   publishAt.UTC(),
		Status:      message.Status(r.Status),
		Retried:     r.Retried,
		RetryAt:     retryAt,
		DeliveredAt: deliveredAt,
		LastErrors:  lastErrors,
	}
	m.CreatedAt = createdAt.UTC()
	m.UpdatedAt = updatedAt.UTC()
	return m, nil
}

func messageArgs(m *message.Message) ([]any, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, err
	}
	var lastErrors sql.NullString
	if len(m.LastErrors) > 0 {
		raw, err := json.Marshal(m.LastErrors)
		if err != nil {
			return nil, err
		}
		lastErrors = sql.NullString{String: string(raw), Valid: true}
	}
	return []any{
		m.ID.String(),
		payload,
		m.PublishAt.UTC().Format(time.RFC3339Nano),
		nullTime(m.DeliveredAt),
		nullTime(m.RetryAt),
		m.Retried,
		string(m.Status),
		lastErrors,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
		m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

const messageColumns = `id, payload, publish_at, delivered_at, retry_at, retried, status, last_errors, created_at, updated_at`

// Create persists a brand new message, bumps the Created stats cell, and
// appends a CREATE log entry, all within one transaction.
func (s *Store) Create(ctx context.Context, msg *message.Message, opts ...message.CreateOption) (*message.Message, queue.Event, error) {
	var o message.CreateOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	if !o.PreserveTimestamps {
		msg.CreatedAt = now
		msg.UpdatedAt = now
	}

	args, err := messageArgs(msg)
	if err != nil {
		return nil, queue.Event{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, queue.Event{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, queue.Event{}, message.ErrDuplicateID
		}
		return nil, queue.Event{}, err
	}

	if err := bumpStatusTx(ctx, tx, msg.Status, msg.CreatedAt, true); err != nil {
		return nil, queue.Event{}, err
	}

	after, err := json.Marshal(msg)
	if err != nil {
		return nil, queue.Event{}, err
	}
	if err := insertLogTx(ctx, tx, logstore.ActionCreate, msg.ID, nil, after); err != nil {
		return nil, queue.Event{}, err
	}

	evt, err := queue.New(queue.StoreCreateEvent, queue.ObjectMessages, queue.StoreEventPayload{After: after})
	if err != nil {
		return nil, queue.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return nil, queue.Event{}, err
	}
	return msg, evt, nil
}

// FetchOne returns a single message by ID.
func (s *Store) FetchOne(ctx context.Context, messageID id.ID) (*message.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID.String())
	m, err := scanMessage(row)
	if isNoRows(err) {
		return nil, message.ErrNotFound
	}
	return m, err
}

// FetchByStatus lists messages in the given status, newest first.
func (s *Store) FetchByStatus(ctx context.Context, status message.Status, filter message.ListFilter) ([]*message.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE status = ?`
	args := []any{string(status)}
	if filter.Before != nil {
		query += ` AND publish_at < ?`
		args = append(args, filter.Before.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryMessages(ctx, query, args...)
}

// FetchByDate lists messages whose PublishAt falls on date's UTC calendar day.
func (s *Store) FetchByDate(ctx context.Context, date time.Time, filter message.ListFilter) ([]*message.Message, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `SELECT ` + messageColumns + ` FROM messages WHERE publish_at >= ? AND publish_at < ?`
	args := []any{dayStart.Format(time.RFC3339Nano), dayEnd.Format(time.RFC3339Nano)}
	if filter.Before != nil {
		query += ` AND publish_at < ?`
		args = append(args, filter.Before.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY publish_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryMessages(ctx, query, args...)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*message.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*message.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Update applies patch to messageID's message inside a transaction,
// validating the status transition and adjusting the stats cell in lockstep.
func (s *Store) Update(ctx context.Context, messageID id.ID, patch message.Patch) (*message.Message, queue.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, queue.Event{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID.String())
	m, err := scanMessage(row)
	if isNoRows(err) {
		return nil, queue.Event{}, message.ErrNotFound
	}
	if err != nil {
		return nil, queue.Event{}, err
	}

	before, err := json.Marshal(m)
	if err != nil {
		return nil, queue.Event{}, err
	}
	oldStatus := m.Status

	if patch.Status != nil && !message.ValidTransition(oldStatus, *patch.Status) {
		return nil, queue.Event{}, message.ErrInvalidTransition
	}

	now := time.Now().UTC()
	patch.Apply(m, now)

	args, err := messageArgs(m)
	if err != nil {
		return nil, queue.Event{}, err
	}
	// args is (id, payload, publish_at, delivered_at, retry_at, retried,
	// status, last_errors, created_at, updated_at); the WHERE clause needs
	// id again at the end.
	args = append(args, m.ID.String())
	_, err = tx.ExecContext(ctx, `
UPDATE messages SET payload = ?, publish_at = ?, delivered_at = ?, retry_at = ?, retried = ?,
    status = ?, last_errors = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		args[1:]...)
	if err != nil {
		return nil, queue.Event{}, err
	}

	if patch.Status != nil && *patch.Status != oldStatus {
		if err := bumpStatusTx(ctx, tx, oldStatus, now, false); err != nil {
			return nil, queue.Event{}, err
		}
		if err := bumpStatusTx(ctx, tx, *patch.Status, now, true); err != nil {
			return nil, queue.Event{}, err
		}
	}

	after, err := json.Marshal(m)
	if err != nil {
		return nil, queue.Event{}, err
	}
	if err := insertLogTx(ctx, tx, logstore.ActionUpdate, m.ID, before, after); err != nil {
		return nil, queue.Event{}, err
	}

	evt, err := queue.New(queue.StoreUpdateEvent, queue.ObjectMessages, queue.StoreEventPayload{Before: before, After: after})
	if err != nil {
		return nil, queue.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return nil, queue.Event{}, err
	}
	return m, evt, nil
}

// Delete removes a message, decrementing its current status cell. The
// all-time total counter is never decremented (spec §4.2).
func (s *Store) Delete(ctx context.Context, messageID id.ID) (*message.Message, queue.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, queue.Event{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID.String())
	m, err := scanMessage(row)
	if isNoRows(err) {
		return nil, queue.Event{}, message.ErrNotFound
	}
	if err != nil {
		return nil, queue.Event{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID.String()); err != nil {
		return nil, queue.Event{}, err
	}

	now := time.Now().UTC()
	if err := bumpStatusTx(ctx, tx, m.Status, now, false); err != nil {
		return nil, queue.Event{}, err
	}

	before, err := json.Marshal(m)
	if err != nil {
		return nil, queue.Event{}, err
	}
	if err := insertLogTx(ctx, tx, logstore.ActionDelete, m.ID, before, nil); err != nil {
		return nil, queue.Event{}, err
	}

	evt, err := queue.New(queue.StoreDeleteEvent, queue.ObjectMessages, queue.StoreEventPayload{Before: before})
	if err != nil {
		return nil, queue.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return nil, queue.Event{}, err
	}
	return m, evt, nil
}

// Reset deletes every message whose ID contains match (empty matches all),
// decrementing each deleted message's status gauge in lockstep so the
// per-status counters stay reconciled with what remains in the store.
func (s *Store) Reset(ctx context.Context, match string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	countQuery := `SELECT status, COUNT(*) FROM messages`
	deleteQuery := `DELETE FROM messages`
	var args []any
	if match != "" {
		countQuery += ` WHERE id LIKE ?`
		deleteQuery += ` WHERE id LIKE ?`
		args = append(args, "%"+match+"%")
	}
	countQuery += ` GROUP BY status`

	rows, err := tx.QueryContext(ctx, countQuery, args...)
	if err != nil {
		return err
	}
	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return err
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
		return err
	}

	for status, count := range counts {
		if err := adjustGauge(ctx, tx, status, -int(count)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Raw returns messages matching the optional filter for admin inspection.
func (s *Store) Raw(ctx context.Context, match string, limit int) ([]*message.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
	var args []any
	if match != "" {
		query += ` WHERE id LIKE ?`
		args = append(args, "%"+match+"%")
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryMessages(ctx, query, args...)
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint violations as a plain error
	// whose message names the constraint; there is no typed sentinel.
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
