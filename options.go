package done

import (
	"log/slog"
	"time"

	"github.com/dnlfm/done/manager"
	"github.com/dnlfm/done/store"
)

// Config holds the tunables for an Engine instance. AuthToken is required
// for the Admin Query API's bearer-token middleware; everything else has a
// working default.
type Config struct {
	// AuthToken gates every route except GET /system/ping.
	AuthToken string

	// PollInterval is how often the State Manager polls the durable queue.
	PollInterval time.Duration

	// BatchSize caps how many queue events are dequeued per poll.
	BatchSize int

	// Concurrency bounds how many dequeued events are processed at once.
	Concurrency int
}

// DefaultConfig mirrors the State Manager's own defaults.
func DefaultConfig() Config {
	d := manager.DefaultConfig()
	return Config{
		PollInterval: d.PollInterval,
		BatchSize:    d.BatchSize,
		Concurrency:  d.Concurrency,
	}
}

// Option configures an Engine during New.
type Option func(*Engine) error

// WithStore sets the aggregate store backend (memory, sqlite, or redis).
func WithStore(st store.Store) Option {
	return func(e *Engine) error {
		e.store = st
		return nil
	}
}

// WithLogger sets the structured logger used by every sub-service. Defaults
// to slog.Default() when not provided.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithAuthToken sets the bearer token required by the Admin Query API.
func WithAuthToken(token string) Option {
	return func(e *Engine) error {
		e.config.AuthToken = token
		return nil
	}
}

// WithPollInterval overrides the State Manager's poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.PollInterval = d
		return nil
	}
}

// WithBatchSize overrides how many queue events are dequeued per poll.
func WithBatchSize(n int) Option {
	return func(e *Engine) error {
		e.config.BatchSize = n
		return nil
	}
}

// WithConcurrency overrides how many dequeued events the State Manager
// processes at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) error {
		e.config.Concurrency = n
		return nil
	}
}
