package activator_test

import (
	"context"
	"testing"
	"time"

	"github.com/dnlfm/done/activator"
	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
	"github.com/dnlfm/done/store/memory"
)

func TestSweepPromotesMessagesPublishingToday(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	today := time.Now().UTC()
	msg := &message.Message{
		ID:        id.NewMessageID(),
		Status:    message.StatusCreated,
		Payload:   message.Payload{URL: "https://example.com/cb"},
		PublishAt: today,
	}
	if _, _, err := s.Create(ctx, msg); err != nil {
		t.Fatal(err)
	}

	a := activator.New(s, nil)
	if err := a.Sweep(ctx, today); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchOne(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != message.StatusQueued {
		t.Fatalf("Status = %v, want QUEUED", got.Status)
	}

	evts, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != queue.MessageQueued {
		t.Fatalf("expected one MESSAGE_QUEUED event, got %+v", evts)
	}
}

func TestSweepDoesNotDeliverBeforePublishAt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	today := time.Now().UTC()
	publishAt := today.Add(3 * time.Hour)
	msg := &message.Message{
		ID:        id.NewMessageID(),
		Status:    message.StatusCreated,
		Payload:   message.Payload{URL: "https://example.com/cb"},
		PublishAt: publishAt,
	}
	if _, _, err := s.Create(ctx, msg); err != nil {
		t.Fatal(err)
	}

	a := activator.New(s, nil)
	if err := a.Sweep(ctx, today); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchOne(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != message.StatusQueued {
		t.Fatalf("Status = %v, want QUEUED", got.Status)
	}

	// PublishAt is hours away; the MESSAGE_QUEUED event must not be visible yet.
	evts, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected the delayed MESSAGE_QUEUED event to stay invisible, got %d", len(evts))
	}
}

func TestSweepIgnoresMessagesPublishingOnAnotherDay(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	today := time.Now().UTC()
	tomorrow := today.AddDate(0, 0, 1)
	msg := &message.Message{
		ID:        id.NewMessageID(),
		Status:    message.StatusCreated,
		Payload:   message.Payload{URL: "https://example.com/cb"},
		PublishAt: tomorrow,
	}
	if _, _, err := s.Create(ctx, msg); err != nil {
		t.Fatal(err)
	}

	a := activator.New(s, nil)
	if err := a.Sweep(ctx, today); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchOne(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != message.StatusCreated {
		t.Fatalf("Status = %v, want CREATED (unswept)", got.Status)
	}
}

func TestSweepSkipsMessagesNotInCreatedStatus(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	today := time.Now().UTC()
	msg := &message.Message{
		ID:        id.NewMessageID(),
		Status:    message.StatusCreated,
		Payload:   message.Payload{URL: "https://example.com/cb"},
		PublishAt: today,
	}
	if _, _, err := s.Create(ctx, msg); err != nil {
		t.Fatal(err)
	}

	deliverStatus := message.StatusDeliver
	if _, _, err := s.Update(ctx, msg.ID, message.Patch{Status: &deliverStatus}); err != nil {
		t.Fatal(err)
	}

	a := activator.New(s, nil)
	if err := a.Sweep(ctx, today); err != nil {
		t.Fatal(err)
	}

	evts, err := s.Dequeue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected no events for an already-promoted message, got %d", len(evts))
	}
}

func TestStartStopStopsTheSweepLoop(t *testing.T) {
	s := memory.New()
	a := activator.New(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Start(ctx)
	a.Stop(context.Background())
}
