package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
	redisstore "github.com/dnlfm/done/store/redis"
)

func mustNewMessageID() id.ID {
	return id.NewMessageID()
}

func newRawEvent() (queue.Event, error) {
	return queue.New(queue.MessageQueued, queue.ObjectMessages, queue.MessageRef{MessageID: id.NewMessageID()})
}

func newTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisstore.New(client)
}

func TestStorePing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestMessageCreateFetchUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &message.Message{
		ID:     mustNewMessageID(),
		Status: message.StatusCreated,
		Payload: message.Payload{
			URL: "https://example.com/cb",
		},
	}

	created, evt, err := s.Create(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if created.Status != message.StatusCreated {
		t.Fatalf("Status = %v, want CREATED", created.Status)
	}
	if evt.Type == "" {
		t.Fatal("expected a non-empty store event type")
	}

	fetched, err := s.FetchOne(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.ID != msg.ID {
		t.Fatalf("FetchOne returned a different message: %+v", fetched)
	}

	deliverStatus := message.StatusDeliver
	updated, _, err := s.Update(ctx, msg.ID, message.Patch{Status: &deliverStatus})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != message.StatusDeliver {
		t.Fatalf("Status after update = %v, want DELIVER", updated.Status)
	}
}

func TestMessageFetchByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := &message.Message{
			ID:      mustNewMessageID(),
			Status:  message.StatusCreated,
			Payload: message.Payload{URL: "https://example.com/cb"},
		}
		if _, _, err := s.Create(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FetchByStatus(ctx, message.StatusCreated, message.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("FetchByStatus returned %d messages, want 3", len(got))
	}
}

func TestQueueEnqueueDequeueAck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	evt, err := newRawEvent()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, evt, 0); err != nil {
		t.Fatal(err)
	}

	evts, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one dequeued event, got %d", len(evts))
	}

	if err := s.Ack(ctx, evts[0].ID); err != nil {
		t.Fatal(err)
	}

	evts, err = s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected no events after ack, got %d", len(evts))
	}
}

func TestQueueDelayedEventIsNotImmediatelyVisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	evt, err := newRawEvent()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, evt, time.Hour); err != nil {
		t.Fatal(err)
	}

	evts, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected a delayed event to stay invisible, got %d", len(evts))
	}
}

func TestStatsIncrementDecrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Increment(ctx, message.StatusSent, now); err != nil {
		t.Fatal(err)
	}
	if err := s.Increment(ctx, message.StatusSent, now); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ByStatus[message.StatusSent] != 2 {
		t.Fatalf("ByStatus[sent] = %d, want 2", snap.ByStatus[message.StatusSent])
	}

	if err := s.Decrement(ctx, message.StatusSent, now); err != nil {
		t.Fatal(err)
	}
	snap, err = s.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ByStatus[message.StatusSent] != 1 {
		t.Fatalf("ByStatus[sent] after decrement = %d, want 1", snap.ByStatus[message.StatusSent])
	}
}

func TestResetReconcilesStatusGauges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		msg := &message.Message{
			ID:      mustNewMessageID(),
			Status:  message.StatusCreated,
			Payload: message.Payload{URL: "https://example.com/cb"},
		}
		if _, _, err := s.Create(ctx, msg); err != nil {
			t.Fatal(err)
		}
		if err := s.Increment(ctx, message.StatusCreated, now); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Reset(ctx, ""); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ByStatus[message.StatusCreated] != 0 {
		t.Fatalf("ByStatus[created] after reset = %d, want 0", snap.ByStatus[message.StatusCreated])
	}
}

func TestLogsAppendAndFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msgID := mustNewMessageID()
	msg := &message.Message{ID: msgID, Status: message.StatusCreated, Payload: message.Payload{URL: "https://example.com/cb"}}
	if _, _, err := s.Create(ctx, msg); err != nil {
		t.Fatal(err)
	}

	entries, err := s.FetchByMessageID(ctx, msgID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("expected Create to have appended at least one log entry")
	}
}
