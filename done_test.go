package done_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dnlfm/done"
	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/store/memory"
)

func ctx() context.Context { return context.Background() }

func setup(t *testing.T) (*done.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	e, err := done.New(
		done.WithStore(s),
		done.WithAuthToken("test-token"),
		done.WithPollInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	return e, s
}

func waitForStatus(t *testing.T, s *memory.Store, msgID id.ID, want message.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg, err := s.FetchOne(context.Background(), msgID)
		if err == nil && msg.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message never reached status %s", want)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := done.New()
	if !errors.Is(err, done.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestEngineEndToEndDelivery(t *testing.T) {
	var receivedBody []byte
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	e, store := setup(t)

	if err := e.Start(ctx()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Stop(stopCtx)
	}()

	srv := httptest.NewServer(e.Router("/v1"))
	defer srv.Close()

	body := bytes.NewReader([]byte(`{"ping":"pong"}`))
	req, err := http.NewRequestWithContext(ctx(), http.MethodPost, srv.URL+"/v1/messages/"+target.URL, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	msgID, err := id.ParseMessageID(created.ID)
	if err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, store, msgID, message.StatusSent, time.Second)
	if string(receivedBody) != `{"ping":"pong"}` {
		t.Fatalf("target received body %q, want {\"ping\":\"pong\"}", receivedBody)
	}
}

func TestEngineStoreAccessor(t *testing.T) {
	e, s := setup(t)
	if e.Store() != s {
		t.Fatal("Store() should return the exact instance passed to WithStore")
	}
}
