// Package logstore implements the Log Store (spec §4.2, component C2): an
// append-only audit trail of every create/update/delete applied to a
// message, indexed by message id.
package logstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dnlfm/done/id"
)

// Action identifies what kind of write an Entry records.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entry is one row of the audit trail.
type Entry struct {
	ID        id.ID           `json:"id"`
	Action    Action          `json:"action"`
	Object    string          `json:"object"`
	MessageID id.ID           `json:"message_id"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an Entry with a fresh ID and the current timestamp.
func New(action Action, object string, messageID id.ID, before, after json.RawMessage) Entry {
	return Entry{
		ID:        id.NewLogID(),
		Action:    action,
		Object:    object,
		MessageID: messageID,
		Before:    before,
		After:     after,
		CreatedAt: time.Now().UTC(),
	}
}

// Store is the Log Store contract.
type Store interface {
	// Append adds entry to the log.
	Append(ctx context.Context, entry Entry) error

	// FetchByMessageID returns every entry for messageID, ascending by
	// CreatedAt (spec §4.2).
	FetchByMessageID(ctx context.Context, messageID id.ID) ([]Entry, error)

	// FetchAll returns up to limit entries across all messages, descending
	// by CreatedAt.
	FetchAll(ctx context.Context, limit int) ([]Entry, error)

	// Truncate deletes every entry in the log.
	Truncate(ctx context.Context) error
}
