package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
	"github.com/dnlfm/done/store/memory"
)

func TestMessageCreateFetchUpdate(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	msg := &message.Message{
		ID:      id.NewMessageID(),
		Status:  message.StatusCreated,
		Payload: message.Payload{URL: "https://example.com/cb"},
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
	if fetched.Payload.URL != "https://example.com/cb" {
		t.Fatalf("FetchOne returned a different payload: %+v", fetched.Payload)
	}

	deliverStatus := message.StatusDeliver
	retried := 1
	updated, _, err := s.Update(ctx, msg.ID, message.Patch{Status: &deliverStatus, Retried: &retried})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != message.StatusDeliver || updated.Retried != 1 {
		t.Fatalf("updated = %+v, want DELIVER/1", updated)
	}
}

func TestMessageDuplicateIDRejected(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	msgID := id.NewMessageID()
	msg := &message.Message{ID: msgID, Status: message.StatusCreated, Payload: message.Payload{URL: "https://example.com/cb"}}
	if _, _, err := s.Create(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Create(ctx, &message.Message{ID: msgID, Payload: message.Payload{URL: "https://example.com/cb"}}); err == nil {
		t.Fatal("expected an error creating a message with a duplicate id")
	}
}

func TestMessageFetchByStatus(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := &message.Message{ID: id.NewMessageID(), Status: message.StatusCreated, Payload: message.Payload{URL: "https://example.com/cb"}}
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
	s := memory.New()
	ctx := context.Background()

	evt, err := queue.New(queue.MessageQueued, queue.ObjectMessages, queue.MessageRef{MessageID: id.NewMessageID()})
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
	s := memory.New()
	ctx := context.Background()

	evt, err := queue.New(queue.MessageQueued, queue.ObjectMessages, queue.MessageRef{MessageID: id.NewMessageID()})
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

func TestResetReconcilesStatusGauges(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := &message.Message{ID: id.NewMessageID(), Status: message.StatusCreated, Payload: message.Payload{URL: "https://example.com/cb"}}
		if _, _, err := s.Create(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := s.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ByStatus[message.StatusCreated] != 3 {
		t.Fatalf("ByStatus[created] before reset = %d, want 3", snap.ByStatus[message.StatusCreated])
	}

	if err := s.Reset(ctx, ""); err != nil {
		t.Fatal(err)
	}

	snap, err = s.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ByStatus[message.StatusCreated] != 0 {
		t.Fatalf("ByStatus[created] after reset = %d, want 0", snap.ByStatus[message.StatusCreated])
	}
}

func TestResetOnlyDeletesMatchingMessages(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	keep := &message.Message{ID: id.NewMessageID(), Status: message.StatusSent, Payload: message.Payload{URL: "https://example.com/cb"}}
	if _, _, err := s.Create(ctx, keep); err != nil {
		t.Fatal(err)
	}
	drop := &message.Message{ID: id.NewMessageID(), Status: message.StatusCreated, Payload: message.Payload{URL: "https://example.com/cb"}}
	if _, _, err := s.Create(ctx, drop); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(ctx, drop.ID.String()); err != nil {
		t.Fatal(err)
	}

	if _, err := s.FetchOne(ctx, drop.ID); err == nil {
		t.Fatal("expected the matched message to be deleted")
	}
	if _, err := s.FetchOne(ctx, keep.ID); err != nil {
		t.Fatalf("expected the non-matching message to survive reset: %v", err)
	}

	snap, err := s.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ByStatus[message.StatusCreated] != 0 {
		t.Fatalf("ByStatus[created] after reset = %d, want 0", snap.ByStatus[message.StatusCreated])
	}
	if snap.ByStatus[message.StatusSent] != 1 {
		t.Fatalf("ByStatus[sent] after reset = %d, want 1 (unaffected)", snap.ByStatus[message.StatusSent])
	}
}
