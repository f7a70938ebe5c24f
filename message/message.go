// Package message defines the Message entity: the core unit of work in
// done's delivery pipeline, and the contract its backing store must satisfy.
package message

import (
	"encoding/json"
	"time"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/internal/entity"
)

// Status is one of the states a Message moves through during its lifecycle.
type Status string

// The full set of states a Message can occupy. See ValidTransition for the
// permitted moves between them.
const (
	StatusCreated  Status = "CREATED"
	StatusQueued   Status = "QUEUED"
	StatusDeliver  Status = "DELIVER"
	StatusSent     Status = "SENT"
	StatusRetry    Status = "RETRY"
	StatusDLQ      Status = "DLQ"
	StatusArchived Status = "ARCHIVED"
)

// allStatuses lists every valid status, in a stable order used for stats
// breakdowns and admin listings.
var allStatuses = []Status{
	StatusCreated, StatusQueued, StatusDeliver, StatusSent, StatusRetry, StatusDLQ, StatusArchived,
}

// AllStatuses returns every valid Message status.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	upper := Status(toUpper(s))
	for _, st := range allStatuses {
		if st == upper {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// ValidTransition reports whether moving a Message from `from` to `to`
// satisfies the state machine in spec §4.3.
func ValidTransition(from, to Status) bool {
	if from == to {
		// A status carried through a patch unchanged is not itself a
		// transition; callers treat this as a no-op write, not a violation.
		return true
	}
	switch from {
	case StatusCreated:
		return to == StatusQueued || to == StatusDeliver
	case StatusQueued:
		return to == StatusDeliver
	case StatusDeliver:
		return to == StatusSent || to == StatusRetry || to == StatusDLQ
	case StatusRetry:
		return to == StatusDeliver
	case StatusDLQ:
		// A DLQ'd message may be replayed back into delivery by an admin.
		return to == StatusDeliver
	default:
		return false
	}
}

// Headers holds the two header classes recognized on ingress (spec §6.1):
// Forward headers are relayed on the outbound callback; Command headers
// steer the system's own behavior (e.g. "failure-callback").
type Headers struct {
	Forward map[string]string `json:"forward,omitempty"`
	Command map[string]string `json:"command,omitempty"`
}

// Payload is the body a client submits: the target URL, the headers to
// forward or interpret, and an opaque JSON data blob.
type Payload struct {
	Headers Headers         `json:"headers"`
	URL     string          `json:"url"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DeliveryError records one failed delivery attempt (spec §3.1 last_errors).
type DeliveryError struct {
	URL       string    `json:"url"`
	Status    *int      `json:"status,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is the primary entity: a request to deliver a payload to a URL
// at or after a given instant.
type Message struct {
	entity.Entity

	ID          id.ID           `json:"id"`
	Payload     Payload         `json:"payload"`
	PublishAt   time.Time       `json:"publish_at"`
	Status      Status          `json:"status"`
	Retried     int             `json:"retried"`
	RetryAt     *time.Time      `json:"retry_at,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	LastErrors  []DeliveryError `json:"last_errors,omitempty"`
}

// Patch is a partial update: a nil field means "leave unchanged". Update
// applies it as a read-merge-write against the stored message.
type Patch struct {
	Status      *Status
	PublishAt   *time.Time
	Retried     *int
	RetryAt     *time.Time
	DeliveredAt *time.Time
	AppendError *DeliveryError
}

// Apply merges the patch onto msg in place and stamps UpdatedAt.
func (p Patch) Apply(msg *Message, now time.Time) {
	if p.Status != nil {
		msg.Status = *p.Status
	}
	if p.PublishAt != nil {
		msg.PublishAt = *p.PublishAt
	}
	if p.Retried != nil {
		msg.Retried = *p.Retried
	}
	if p.RetryAt != nil {
		msg.RetryAt = p.RetryAt
	}
	if p.DeliveredAt != nil {
		msg.DeliveredAt = p.DeliveredAt
	}
	if p.AppendError != nil {
		msg.LastErrors = append(msg.LastErrors, *p.AppendError)
	}
	msg.UpdatedAt = now
}

// CreateOptions configures Message creation.
type CreateOptions struct {
	// PreserveTimestamps keeps the caller-supplied CreatedAt/UpdatedAt
	// instead of stamping them server-side. Used only by the seed utility
	// (spec §4.1).
	PreserveTimestamps bool
}

// CreateOption mutates CreateOptions.
type CreateOption func(*CreateOptions)

// WithPreservedTimestamps preserves caller-supplied timestamps on create.
func WithPreservedTimestamps() CreateOption {
	return func(o *CreateOptions) { o.PreserveTimestamps = true }
}
