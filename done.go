// Package done implements a self-hostable HTTP webhook queue: clients submit
// a callback URL and a payload, the system persists the request, waits until
// the scheduled moment, and delivers it with a retry → dead-letter →
// failure-callback policy.
package done

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dnlfm/done/activator"
	"github.com/dnlfm/done/api"
	"github.com/dnlfm/done/delivery"
	"github.com/dnlfm/done/manager"
	"github.com/dnlfm/done/observability"
	"github.com/dnlfm/done/store"
)

// Engine wires the Message Store, State Manager, Delivery Worker, and Daily
// Activator into one runnable unit, and exposes the Admin Query API router
// over the same store handle.
type Engine struct {
	config Config
	store  store.Store
	logger *slog.Logger

	sender    *delivery.Sender
	manager   *manager.Manager
	activator *activator.Activator
	api       *api.Server
}

// New creates an Engine from opts. A Store is required; every other setting
// falls back to DefaultConfig.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{config: DefaultConfig()}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.store == nil {
		return nil, ErrNoStore
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.wireServices()
	return e, nil
}

// wireServices constructs the sub-services from e.store/e.config/e.logger.
func (e *Engine) wireServices() {
	// A private registry avoids "duplicate metrics collector registration
	// attempted" panics when a process creates more than one Engine (each
	// test in this package's suite, for instance).
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tracer := observability.NewTracer()

	e.sender = delivery.NewSender().WithObservability(metrics, tracer)

	mgrConfig := manager.Config{
		PollInterval: e.config.PollInterval,
		BatchSize:    e.config.BatchSize,
		Concurrency:  e.config.Concurrency,
	}
	e.manager = manager.New(e.store, e.sender, mgrConfig, e.logger)
	e.manager.SetMetrics(metrics)

	e.activator = activator.New(e.store, e.logger)

	e.api = api.NewServer(e.store, e.config.AuthToken, e.logger)
	e.api.SetMetrics(metrics)
}

// Start brings up the store's backing connection, then the State Manager's
// poll loop and the Daily Activator's sweep loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}
	e.manager.Start(ctx)
	e.activator.Start(ctx)
	return nil
}

// Stop cancels the poll/sweep loops and waits for in-flight work to settle,
// then closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	e.manager.Stop(ctx)
	e.activator.Stop(ctx)
	return e.store.Close()
}

// Router returns the Admin Query API / ingress HTTP handler, mounted under prefix.
func (e *Engine) Router(prefix string) http.Handler {
	return e.api.Router(prefix)
}

// Store returns the underlying aggregate store, for callers that need
// direct read access (e.g. a CLI inspection command).
func (e *Engine) Store() store.Store { return e.store }
