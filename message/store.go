package message

import (
	"context"
	"time"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/queue"
)

// ListFilter narrows a FetchByStatus/FetchByDate listing.
type ListFilter struct {
	// Limit caps the number of results. Zero means "backend default".
	Limit int

	// Before, if set, only returns messages published before this instant.
	Before *time.Time
}

// Store is the Message Store contract (spec §4.1, component C1). Every
// mutating method returns the queue.Event the caller must enqueue — the
// store itself never reaches into the queue. This keeps the store
// side-effect free and lets the caller (the State Manager or the Daily
// Activator) own enqueue ordering and failure handling.
type Store interface {
	// Create persists a brand new message with the status msg carries (the
	// State Manager passes StatusCreated) and returns the STORE_CREATE_EVENT
	// to enqueue.
	Create(ctx context.Context, msg *Message, opts ...CreateOption) (*Message, queue.Event, error)

	// FetchOne returns a single message by ID, or ErrNotFound.
	FetchOne(ctx context.Context, messageID id.ID) (*Message, error)

	// FetchByStatus lists messages currently in the given status, newest first.
	FetchByStatus(ctx context.Context, status Status, filter ListFilter) ([]*Message, error)

	// FetchByDate lists messages whose PublishAt falls on the given UTC
	// calendar date, used by the Daily Activator to find today's work.
	FetchByDate(ctx context.Context, date time.Time, filter ListFilter) ([]*Message, error)

	// Update applies patch to the message identified by messageID, validates
	// the resulting status transition, and returns the STORE_UPDATE_EVENT to
	// enqueue. Returns ErrInvalidTransition if the patch's status move isn't
	// permitted by ValidTransition.
	Update(ctx context.Context, messageID id.ID, patch Patch) (*Message, queue.Event, error)

	// Delete removes a message and returns the STORE_DELETE_EVENT to enqueue.
	Delete(ctx context.Context, messageID id.ID) (*Message, queue.Event, error)

	// Reset deletes every message, optionally restricted to those matching
	// match (a backend-defined substring/prefix filter over message IDs).
	Reset(ctx context.Context, match string) error

	// Raw returns messages matching the optional filter for admin inspection,
	// without the FetchByStatus/FetchByDate shaping.
	Raw(ctx context.Context, match string, limit int) ([]*Message, error)
}
