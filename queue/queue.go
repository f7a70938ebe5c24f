// Package queue defines the durable, delay-capable system event bus that
// drives done's state machine (spec §4.6). It is deliberately ignorant of
// what a Message looks like — Data is an opaque JSON blob whose shape is
// interpreted by the State Manager, not by the queue itself.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dnlfm/done/id"
)

// EventType identifies the kind of system event carried on the queue.
type EventType string

// The full set of system event types (spec §3.1).
const (
	// MessageReceived is emitted by the ingress wrapper for a brand new message.
	MessageReceived EventType = "MESSAGE_RECEIVED"

	// MessageQueued is emitted when a CREATED message is scheduled for
	// delivery later today.
	MessageQueued EventType = "MESSAGE_QUEUED"

	// MessageRetry is emitted when a failed delivery is scheduled to retry.
	MessageRetry EventType = "MESSAGE_RETRY"

	// StoreCreateEvent is emitted by the Message Store after a successful create.
	StoreCreateEvent EventType = "STORE_CREATE_EVENT"

	// StoreUpdateEvent is emitted by the Message Store after a successful update.
	StoreUpdateEvent EventType = "STORE_UPDATE_EVENT"

	// StoreDeleteEvent is emitted by the Message Store after a successful delete.
	StoreDeleteEvent EventType = "STORE_DELETE_EVENT"
)

// Object names the entity kind a store event concerns. Messages are the
// only entity done's store emits events for today.
const ObjectMessages = "messages"

// Event is a transient record on the durable queue.
type Event struct {
	ID        id.ID           `json:"id"`
	Type      EventType       `json:"type"`
	Object    string          `json:"object,omitempty"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessageRef is the Data shape for MESSAGE_QUEUED and MESSAGE_RETRY events:
// a reference to the message that has become eligible for a delivery
// attempt. It deliberately carries nothing beyond the ID — the State
// Manager re-reads current state from the Message Store before acting, so
// a stale snapshot on the queue can never drive a stale decision.
type MessageRef struct {
	MessageID id.ID `json:"message_id"`
}

// StoreEventPayload is the Data shape for STORE_CREATE_EVENT,
// STORE_UPDATE_EVENT, and STORE_DELETE_EVENT: the entity's state before
// and/or after the write. Other event types carry their subject directly
// as Data (spec §4.5).
type StoreEventPayload struct {
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// New builds an Event with a fresh ID and timestamp, marshaling data into
// the Data field.
func New(typ EventType, object string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        id.NewSystemEventID(),
		Type:      typ,
		Object:    object,
		Data:      raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Queue is the durable, single-consumer, delay-capable FIFO contract
// (spec §4.6). Implementations must guarantee no loss after a successful
// Enqueue and at-least-once delivery to Dequeue callers once the delay (if
// any) has elapsed. The queue orders by arrival time; delayed records
// become visible only once their delay has expired.
type Queue interface {
	// Enqueue persists evt, visible for consumption after delay has elapsed.
	// A zero or negative delay makes it immediately visible.
	Enqueue(ctx context.Context, evt Event, delay time.Duration) error

	// Dequeue claims up to limit visible events for processing. Implementations
	// must ensure no two concurrent callers observe the same event (e.g. via
	// row-level locking or an atomic claim).
	Dequeue(ctx context.Context, limit int) ([]Event, error)

	// Ack marks an event as fully processed so it is not redelivered.
	Ack(ctx context.Context, eventID id.ID) error

	// Close releases any resources held by the queue.
	Close() error
}
