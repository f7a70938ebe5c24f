package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dnlfm/done/delivery"
	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
)

func newTestPayload(url string) message.Payload {
	return message.Payload{
		URL:  url,
		Data: json.RawMessage(`{"hello":"world"}`),
	}
}

func TestSenderHappyPath(t *testing.T) {
	var receivedHeaders http.Header
	var receivedBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		receivedBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender()
	msgID := id.NewMessageID()
	payload := newTestPayload(srv.URL)

	result := sender.Send(context.Background(), msgID, message.StatusDeliver, 2, payload)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Status == nil || *result.Status != http.StatusOK {
		t.Fatalf("expected status 200, got %+v", result.Status)
	}
	if result.LatencyMs < 0 {
		t.Fatal("latency should be non-negative")
	}
	if receivedBody != `{"hello":"world"}` {
		t.Fatalf("unexpected body: %s", receivedBody)
	}

	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Fatal("missing Content-Type")
	}
	if receivedHeaders.Get("User-Agent") != "Done Light" {
		t.Fatal("missing User-Agent")
	}
	if receivedHeaders.Get("Done-Message-Id") != msgID.String() {
		t.Fatal("missing Done-Message-Id")
	}
	if receivedHeaders.Get("Done-Status") != string(message.StatusDeliver) {
		t.Fatal("missing Done-Status")
	}
	if receivedHeaders.Get("Done-Retried") != "2" {
		t.Fatal("missing Done-Retried")
	}
}

func TestSenderForwardHeadersDoNotOverrideSystemHeaders(t *testing.T) {
	var receivedHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender()
	msgID := id.NewMessageID()
	payload := newTestPayload(srv.URL)
	payload.Headers.Forward = map[string]string{
		"X-Custom-Header": "custom-value",
		"Done-Message-Id": "should-be-overwritten",
	}

	sender.Send(context.Background(), msgID, message.StatusDeliver, 0, payload)

	if receivedHeaders.Get("X-Custom-Header") != "custom-value" {
		t.Fatal("missing forwarded custom header")
	}
	if receivedHeaders.Get("Done-Message-Id") != msgID.String() {
		t.Fatalf("system header was overridden by forward header: %q", receivedHeaders.Get("Done-Message-Id"))
	}
}

func TestSenderInvalidResponseStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := delivery.NewSender()
	result := sender.Send(context.Background(), id.NewMessageID(), message.StatusDeliver, 0, newTestPayload(srv.URL))

	if result.Success {
		t.Fatal("expected failure for 500 response")
	}
	if result.Status == nil || *result.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %+v", result.Status)
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	sender := delivery.NewSender()
	result := sender.Send(context.Background(), id.NewMessageID(), message.StatusDeliver, 0, newTestPayload("http://127.0.0.1:1"))

	if result.Success {
		t.Fatal("expected failure on connection refused")
	}
	if result.Status != nil {
		t.Fatalf("expected no status on connection refused, got %+v", result.Status)
	}
	if result.Message == "" {
		t.Fatal("expected an error message")
	}
}

func TestSenderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	sender := delivery.NewSender()
	result := sender.Send(ctx, id.NewMessageID(), message.StatusDeliver, 0, newTestPayload(srv.URL))

	if result.Success {
		t.Fatal("expected failure on context timeout")
	}
	if result.Message == "" {
		t.Fatal("expected an error message")
	}
}

func TestPostCallback(t *testing.T) {
	var receivedBody []byte
	var receivedHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := delivery.NewSender()
	err := sender.PostCallback(context.Background(), srv.URL, map[string]string{"X-Reason": "dlq"}, []byte(`{"ok":false}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(receivedBody) != `{"ok":false}` {
		t.Fatalf("unexpected body: %s", receivedBody)
	}
	if receivedHeaders.Get("X-Reason") != "dlq" {
		t.Fatal("missing forwarded header")
	}
}

func TestPostCallbackError(t *testing.T) {
	sender := delivery.NewSender()
	err := sender.PostCallback(context.Background(), "http://127.0.0.1:1", nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
}
