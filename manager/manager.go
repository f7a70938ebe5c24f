// Package manager implements the State Manager (spec §4.5, component C5):
// the sole consumer of the durable queue, and the only code path (besides
// admin bulk reset and the Daily Activator's CREATED->QUEUED promotion) that
// mutates a Message's state.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dnlfm/done/delivery"
	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/observability"
	"github.com/dnlfm/done/queue"
)

// ReceivedPayload is the Data shape of a MESSAGE_RECEIVED event: everything
// the ingress wrapper collected from the inbound HTTP request, not yet
// persisted as a Message.
type ReceivedPayload struct {
	MessageID id.ID           `json:"message_id"`
	URL       string          `json:"url"`
	Data      json.RawMessage `json:"data,omitempty"`
	Headers   message.Headers `json:"headers"`
	PublishAt time.Time       `json:"publish_at"`
}

// Store is the slice of the aggregate store the Manager depends on.
type Store interface {
	Create(ctx context.Context, msg *message.Message, opts ...message.CreateOption) (*message.Message, queue.Event, error)
	FetchOne(ctx context.Context, messageID id.ID) (*message.Message, error)
	Update(ctx context.Context, messageID id.ID, patch message.Patch) (*message.Message, queue.Event, error)

	Enqueue(ctx context.Context, evt queue.Event, delay time.Duration) error
	Dequeue(ctx context.Context, limit int) ([]queue.Event, error)
	Ack(ctx context.Context, eventID id.ID) error
}

// Config tunes the Manager's poll loop.
type Config struct {
	// PollInterval is how often the queue is polled for new events.
	PollInterval time.Duration

	// BatchSize caps how many events are dequeued per poll.
	BatchSize int

	// Concurrency bounds how many events are processed at once. The spec
	// permits parallelism across events targeting different messages; this
	// caps the worker pool that processes a dequeued batch.
	Concurrency int
}

// DefaultConfig mirrors the delivery engine's own defaults in spirit:
// frequent polling, small batches, modest concurrency.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    32,
		Concurrency:  8,
	}
}

// Manager runs the poll loop that drives the state machine.
type Manager struct {
	store   Store
	sender  *delivery.Sender
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager.
func New(store Store, sender *delivery.Sender, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = delivery.NewSender()
	}
	return &Manager{store: store, sender: sender, cfg: cfg, logger: logger}
}

// SetMetrics attaches Prometheus metrics updated as messages move onto and
// off of the dead letter queue. Safe to skip; a nil Manager.metrics records
// nothing.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// Start begins the poll loop in the background.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight events to finish.
func (m *Manager) Stop(_ context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// pollLoop periodically dequeues events and dispatches them to workers,
// mirroring the delivery engine's own semaphore-bounded pattern.
func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, m.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := m.store.Dequeue(ctx, m.cfg.BatchSize)
			if err != nil {
				m.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, evt := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				m.wg.Add(1)
				go func(e queue.Event) {
					defer m.wg.Done()
					defer func() { <-sem }()
					m.process(ctx, e)
				}(evt)
			}
		}
	}
}

// process handles a single dequeued event, then acknowledges it. Processing
// errors are logged, not retried here — at-least-once redelivery relies on
// the event remaining un-acked, which a crash mid-process gives for free.
func (m *Manager) process(ctx context.Context, evt queue.Event) {
	if err := m.dispatch(ctx, evt); err != nil {
		m.logger.ErrorContext(ctx, "event processing failed", "event_id", evt.ID.String(), "type", evt.Type, "error", err)
	}
	if err := m.store.Ack(ctx, evt.ID); err != nil {
		m.logger.ErrorContext(ctx, "ack failed", "event_id", evt.ID.String(), "error", err)
	}
}

// dispatch implements the dispatch order from spec §4.5.
func (m *Manager) dispatch(ctx context.Context, evt queue.Event) error {
	switch evt.Type {
	case queue.MessageReceived:
		return m.handleReceived(ctx, evt)

	case queue.MessageQueued, queue.MessageRetry:
		return m.handleDelayedFire(ctx, evt)

	case queue.StoreCreateEvent, queue.StoreUpdateEvent, queue.StoreDeleteEvent:
		// Audit-trail events the Manager itself enqueued alongside a
		// synchronous state transition; nothing further to dispatch.
		return nil

	default:
		return fmt.Errorf("manager: unknown event type %q", evt.Type)
	}
}

// handleReceived creates the message via the Message Store (C1) and then
// continues the state machine in-process using the created record, rather
// than waiting for the STORE_CREATE_EVENT to come back around the queue.
func (m *Manager) handleReceived(ctx context.Context, evt queue.Event) error {
	var payload ReceivedPayload
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal MESSAGE_RECEIVED: %w", err)
	}

	msg := &message.Message{
		ID: payload.MessageID,
		Payload: message.Payload{
			URL:     payload.URL,
			Data:    payload.Data,
			Headers: payload.Headers,
		},
		PublishAt: payload.PublishAt,
		Status:    message.StatusCreated,
	}

	created, storeEvt, err := m.store.Create(ctx, msg)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	m.enqueueAudit(ctx, storeEvt)

	return m.dispatchCreated(ctx, created)
}

// dispatchCreated applies the CREATED-state transition rules (spec §4.3).
func (m *Manager) dispatchCreated(ctx context.Context, msg *message.Message) error {
	now := time.Now().UTC()

	switch {
	case !msg.PublishAt.After(now):
		deliverStatus := message.StatusDeliver
		updated, storeEvt, err := m.store.Update(ctx, msg.ID, message.Patch{Status: &deliverStatus})
		if err != nil {
			return fmt.Errorf("set deliver: %w", err)
		}
		m.enqueueAudit(ctx, storeEvt)
		return m.attemptDelivery(ctx, updated)

	case sameUTCDate(msg.PublishAt, now):
		queuedStatus := message.StatusQueued
		_, storeEvt, err := m.store.Update(ctx, msg.ID, message.Patch{Status: &queuedStatus})
		if err != nil {
			return fmt.Errorf("set queued: %w", err)
		}
		m.enqueueAudit(ctx, storeEvt)

		delay := msg.PublishAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return m.enqueueDelayed(ctx, queue.MessageQueued, msg.ID, delay)

	default:
		// publish_at is on a later calendar day; remains CREATED until the
		// Daily Activator sweeps it on that day.
		return nil
	}
}

// handleDelayedFire handles a delayed MESSAGE_QUEUED/MESSAGE_RETRY event
// firing: the message becomes eligible for a delivery attempt.
func (m *Manager) handleDelayedFire(ctx context.Context, evt queue.Event) error {
	var ref queue.MessageRef
	if err := json.Unmarshal(evt.Data, &ref); err != nil {
		return fmt.Errorf("unmarshal %s: %w", evt.Type, err)
	}

	msg, err := m.store.FetchOne(ctx, ref.MessageID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			// The message was deleted (e.g. admin reset) between enqueue and fire.
			return nil
		}
		return fmt.Errorf("fetch message: %w", err)
	}

	deliverStatus := message.StatusDeliver
	if !message.ValidTransition(msg.Status, deliverStatus) {
		// Already moved on (e.g. replayed by admin, or duplicate delivery);
		// at-least-once redelivery can surface this harmlessly.
		return nil
	}

	patch := message.Patch{Status: &deliverStatus}
	if msg.Status == message.StatusDLQ {
		// A DLQ replay gets a fresh set of retry attempts (spec §4.3).
		zero := 0
		patch.Retried = &zero
	}

	updated, storeEvt, err := m.store.Update(ctx, msg.ID, patch)
	if err != nil {
		return fmt.Errorf("set deliver: %w", err)
	}
	m.enqueueAudit(ctx, storeEvt)

	return m.attemptDelivery(ctx, updated)
}

// attemptDelivery runs the Delivery Worker (C6) against msg, which must be
// in DELIVER status, and applies the resulting transition.
func (m *Manager) attemptDelivery(ctx context.Context, msg *message.Message) error {
	result := m.sender.Send(ctx, msg.ID, msg.Status, msg.Retried, msg.Payload)
	decision := delivery.Decide(result, msg.Retried)
	now := time.Now().UTC()

	if decision == delivery.Sent {
		sentStatus := message.StatusSent
		_, storeEvt, err := m.store.Update(ctx, msg.ID, message.Patch{
			Status:      &sentStatus,
			DeliveredAt: &now,
		})
		if err != nil {
			return fmt.Errorf("set sent: %w", err)
		}
		m.enqueueAudit(ctx, storeEvt)
		return nil
	}

	failErr := message.DeliveryError{
		URL:       msg.Payload.URL,
		Status:    result.Status,
		Message:   result.Message,
		CreatedAt: now,
	}
	retried := msg.Retried + 1

	if decision == delivery.Retry {
		retryStatus := message.StatusRetry
		retryAt := delivery.NextAttempt(now)
		_, storeEvt, err := m.store.Update(ctx, msg.ID, message.Patch{
			Status:      &retryStatus,
			Retried:     &retried,
			RetryAt:     &retryAt,
			AppendError: &failErr,
		})
		if err != nil {
			return fmt.Errorf("set retry: %w", err)
		}
		m.enqueueAudit(ctx, storeEvt)
		return m.enqueueDelayed(ctx, queue.MessageRetry, msg.ID, retryAt.Sub(now))
	}

	// DLQ.
	dlqStatus := message.StatusDLQ
	updated, storeEvt, err := m.store.Update(ctx, msg.ID, message.Patch{
		Status:      &dlqStatus,
		Retried:     &retried,
		AppendError: &failErr,
	})
	if err != nil {
		return fmt.Errorf("set dlq: %w", err)
	}
	m.enqueueAudit(ctx, storeEvt)
	if m.metrics != nil {
		m.metrics.DLQSize.Inc()
	}
	m.fireFailureCallback(ctx, updated)
	return nil
}

// fireFailureCallback sends a single best-effort POST to the caller's
// failure-callback URL, if one was supplied (spec §4.3).
func (m *Manager) fireFailureCallback(ctx context.Context, msg *message.Message) {
	cb, ok := msg.Payload.Headers.Command["failure-callback"]
	if !ok || cb == "" {
		return
	}
	if err := m.sender.PostCallback(ctx, cb, msg.Payload.Headers.Forward, msg.Payload.Data); err != nil {
		m.logger.WarnContext(ctx, "failure-callback post failed", "message_id", msg.ID.String(), "url", cb, "error", err)
	}
}

// enqueueDelayed builds and enqueues a MESSAGE_QUEUED/MESSAGE_RETRY event.
func (m *Manager) enqueueDelayed(ctx context.Context, typ queue.EventType, messageID id.ID, delay time.Duration) error {
	evt, err := queue.New(typ, queue.ObjectMessages, queue.MessageRef{MessageID: messageID})
	if err != nil {
		return fmt.Errorf("build %s event: %w", typ, err)
	}
	if err := m.store.Enqueue(ctx, evt, delay); err != nil {
		return fmt.Errorf("enqueue %s event: %w", typ, err)
	}
	return nil
}

// enqueueAudit enqueues a STORE_*_EVENT for audit visibility. A failure
// here is logged but never blocks the state transition it describes — the
// transition already committed to the Message Store.
func (m *Manager) enqueueAudit(ctx context.Context, evt queue.Event) {
	if err := m.store.Enqueue(ctx, evt, 0); err != nil {
		m.logger.ErrorContext(ctx, "enqueue audit event failed", "event_id", evt.ID.String(), "type", evt.Type, "error", err)
	}
}

func sameUTCDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
