package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dnlfm/done/delivery"
	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/store/memory"
)

// TestAttemptDeliveryDrivesRepeatedFailuresToDLQAndFiresFailureCallback exercises
// attemptDelivery directly across delivery.MaxRetries consecutive failures,
// the same path the poll loop drives on each delayed retry fire, without
// waiting out the real one-minute backoff between attempts.
func TestAttemptDeliveryDrivesRepeatedFailuresToDLQAndFiresFailureCallback(t *testing.T) {
	var deliveryAttempts int
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		deliveryAttempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	var callbackFired bool
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callbackFired = true
		w.WriteHeader(http.StatusOK)
	}))
	defer callback.Close()

	store := memory.New()
	mgr := New(store, delivery.NewSender(), Config{}, nil)
	ctx := context.Background()

	msg := &message.Message{
		ID:     id.NewMessageID(),
		Status: message.StatusDeliver,
		Payload: message.Payload{
			URL: target.URL,
			Headers: message.Headers{
				Command: map[string]string{"failure-callback": callback.URL},
			},
		},
	}
	current, _, err := store.Create(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}

	deliverStatus := message.StatusDeliver
	for i := 0; i < delivery.MaxRetries; i++ {
		// Each retry fire moves the message back to DELIVER before the
		// attempt, as handleDelayedFire does.
		current, _, err = store.Update(ctx, current.ID, message.Patch{Status: &deliverStatus})
		if err != nil {
			t.Fatal(err)
		}
		if err := mgr.attemptDelivery(ctx, current); err != nil {
			t.Fatal(err)
		}
		current, err = store.FetchOne(ctx, current.ID)
		if err != nil {
			t.Fatal(err)
		}
	}

	if current.Status != message.StatusDLQ {
		t.Fatalf("Status = %v, want DLQ after %d consecutive failures", current.Status, delivery.MaxRetries)
	}
	if current.Retried != delivery.MaxRetries {
		t.Fatalf("Retried = %d, want %d", current.Retried, delivery.MaxRetries)
	}
	if len(current.LastErrors) != delivery.MaxRetries {
		t.Fatalf("LastErrors = %+v, want %d entries", current.LastErrors, delivery.MaxRetries)
	}
	if deliveryAttempts != delivery.MaxRetries {
		t.Fatalf("delivery attempts = %d, want %d", deliveryAttempts, delivery.MaxRetries)
	}
	if !callbackFired {
		t.Fatal("expected the failure-callback to fire once the message reached DLQ")
	}
}
