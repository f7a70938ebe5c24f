// Package store defines the composite Store interface for all of done's
// persistence.
//
// The composite store follows the ControlPlane pattern: each subsystem
// defines its own store interface, and the aggregate Store composes them
// all into one handle that a single backend satisfies.
package store

import (
	"context"
	"errors"

	"github.com/dnlfm/done/logstore"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
	"github.com/dnlfm/done/stats"
)

// ErrClosed is returned by backend operations attempted after Close.
var ErrClosed = errors.New("store: closed")

// Store is the aggregate persistence interface. A backend (memory, sqlite,
// redis) implements all four subsystem contracts as one coupled unit so
// that a message write, its stats adjustment, and its log entry happen
// together (spec §2: Stats updates "in lockstep" with Message Store writes).
type Store interface {
	message.Store
	logstore.Store
	stats.Store
	queue.Queue

	// Migrate prepares the backing storage (schema creation for SQL, index
	// bootstrap for KV). A no-op for the in-memory backend.
	Migrate(ctx context.Context) error

	// Ping checks connectivity to the backing storage.
	Ping(ctx context.Context) error
}
