package manager_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dnlfm/done/delivery"
	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/manager"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
	"github.com/dnlfm/done/store/memory"
)

func fastConfig() manager.Config {
	return manager.Config{PollInterval: 10 * time.Millisecond, BatchSize: 32, Concurrency: 4}
}

func enqueueReceived(t *testing.T, s *memory.Store, msgID id.ID, url string, publishAt time.Time) {
	t.Helper()
	payload := manager.ReceivedPayload{
		MessageID: msgID,
		URL:       url,
		PublishAt: publishAt,
	}
	evt, err := queue.New(queue.MessageReceived, queue.ObjectMessages, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(context.Background(), evt, 0); err != nil {
		t.Fatal(err)
	}
}

func waitForStatus(t *testing.T, s *memory.Store, msgID id.ID, want message.Status, timeout time.Duration) *message.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg, err := s.FetchOne(context.Background(), msgID)
		if err == nil && msg.Status == want {
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message never reached status %s", want)
	return nil
}

func TestManagerDeliversAnImmediateMessage(t *testing.T) {
	var received int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := memory.New()
	mgr := manager.New(store, delivery.NewSender(), fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop(ctx)

	msgID := id.NewMessageID()
	enqueueReceived(t, store, msgID, srv.URL, time.Now().UTC().Add(-time.Minute))

	msg := waitForStatus(t, store, msgID, message.StatusSent, time.Second)
	if msg.DeliveredAt == nil {
		t.Fatal("expected DeliveredAt to be set")
	}
	if received != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", received)
	}
}

func TestManagerRecordsAFailedAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := memory.New()
	mgr := manager.New(store, delivery.NewSender(), fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop(ctx)

	msgID := id.NewMessageID()
	enqueueReceived(t, store, msgID, srv.URL, time.Now().UTC().Add(-time.Minute))

	// First attempt fails into RETRY; confirm the state machine records it
	// before the fixed one-minute backoff would otherwise fire again.
	msg := waitForStatus(t, store, msgID, message.StatusRetry, time.Second)
	if msg.Retried != 1 {
		t.Fatalf("Retried = %d, want 1", msg.Retried)
	}
	if len(msg.LastErrors) != 1 {
		t.Fatalf("LastErrors = %+v, want one entry", msg.LastErrors)
	}
}

func TestManagerQueuesAMessagePublishingLaterToday(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := memory.New()
	mgr := manager.New(store, delivery.NewSender(), fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop(ctx)

	msgID := id.NewMessageID()
	publishAt := time.Now().UTC().Add(200 * time.Millisecond)
	enqueueReceived(t, store, msgID, srv.URL, publishAt)

	// Still pending shortly after receipt: publish_at hasn't arrived yet.
	time.Sleep(30 * time.Millisecond)
	msg, err := store.FetchOne(context.Background(), msgID)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != message.StatusQueued {
		t.Fatalf("Status = %v, want QUEUED before publish_at fires", msg.Status)
	}

	waitForStatus(t, store, msgID, message.StatusSent, time.Second)
}
