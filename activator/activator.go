// Package activator implements the Daily Activator (spec §4.1/§4.7,
// component C7): a midnight-UTC sweep that promotes CREATED messages whose
// PublishAt falls on the current UTC calendar date into QUEUED.
package activator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
)

// checkInterval is how often the activator wakes to see whether UTC
// midnight has passed since its last sweep. It does not need to be exact —
// a message promoted a few minutes late is still promoted the same day.
const checkInterval = time.Minute

// fetchBatchSize bounds how many CREATED messages are promoted per FetchByDate call.
const fetchBatchSize = 500

// Store is the slice of the aggregate store the activator depends on.
type Store interface {
	FetchByDate(ctx context.Context, date time.Time, filter message.ListFilter) ([]*message.Message, error)
	Update(ctx context.Context, messageID id.ID, patch message.Patch) (*message.Message, queue.Event, error)
	Enqueue(ctx context.Context, evt queue.Event, delay time.Duration) error
}

// Activator runs the daily sweep loop.
type Activator struct {
	store  Store
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Activator.
func New(store Store, logger *slog.Logger) *Activator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activator{store: store, logger: logger}
}

// Start begins the sweep loop in the background.
func (a *Activator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop(ctx)
	}()
}

// Stop cancels the sweep loop and waits for any in-flight sweep to finish.
func (a *Activator) Stop(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// loop wakes every checkInterval and sweeps once per UTC calendar day.
func (a *Activator) loop(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	var lastSweptDate string

	sweep := func() {
		today := time.Now().UTC()
		key := today.Format("2006-01-02")
		if key == lastSweptDate {
			return
		}
		if err := a.Sweep(ctx, today); err != nil {
			a.logger.ErrorContext(ctx, "daily sweep failed", "error", err)
			return
		}
		lastSweptDate = key
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Sweep promotes every CREATED message whose PublishAt falls on date's UTC
// calendar day to QUEUED, enqueuing a MESSAGE_QUEUED event for each that
// fires once PublishAt arrives rather than immediately.
func (a *Activator) Sweep(ctx context.Context, date time.Time) error {
	msgs, err := a.store.FetchByDate(ctx, date, message.ListFilter{Limit: fetchBatchSize})
	if err != nil {
		return err
	}

	queuedStatus := message.StatusQueued
	for _, m := range msgs {
		if m.Status != message.StatusCreated {
			continue
		}
		if _, _, err := a.store.Update(ctx, m.ID, message.Patch{Status: &queuedStatus}); err != nil {
			a.logger.ErrorContext(ctx, "promote to queued failed", "message_id", m.ID.String(), "error", err)
			continue
		}

		evt, err := queue.New(queue.MessageQueued, queue.ObjectMessages, queue.MessageRef{MessageID: m.ID})
		if err != nil {
			a.logger.ErrorContext(ctx, "build MESSAGE_QUEUED event failed", "message_id", m.ID.String(), "error", err)
			continue
		}

		delay := m.PublishAt.Sub(time.Now().UTC())
		if delay < 0 {
			delay = 0
		}
		if err := a.store.Enqueue(ctx, evt, delay); err != nil {
			a.logger.ErrorContext(ctx, "enqueue MESSAGE_QUEUED failed", "message_id", m.ID.String(), "error", err)
		}
	}
	return nil
}
