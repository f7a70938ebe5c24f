// Package delivery implements the Delivery Worker (spec §4.4, component
// C6): executes the outbound HTTP POST for a message in DELIVER status,
// classifies the response, and reports the outcome back to the caller.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/observability"
)

const maxResponseBody = 1024 // 1KB cap on how much of a response body is read before it is discarded

// RequestTimeout bounds a single outbound HTTP attempt (spec §4.4).
const RequestTimeout = 8 * time.Second

// Result holds the outcome of a single delivery attempt.
type Result struct {
	Success   bool
	Status    *int
	Message   string
	LatencyMs int
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client  *http.Client
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewSender creates a sender using RequestTimeout as its HTTP deadline.
func NewSender() *Sender {
	return &Sender{client: &http.Client{Timeout: RequestTimeout}}
}

// WithObservability attaches Prometheus metrics and an OpenTelemetry
// tracer to s, recorded on every Send call. Either may be nil.
func (s *Sender) WithObservability(m *observability.Metrics, t *observability.Tracer) *Sender {
	s.metrics = m
	s.tracer = t
	return s
}

// Send POSTs msg's payload to its target URL, overlaying the system
// headers (spec §4.4): forward headers first, then Done-Message-Id,
// Done-Status, Done-Retried, User-Agent — the four system entries always
// win over a caller-supplied forward header of the same name.
func (s *Sender) Send(ctx context.Context, msgID id.ID, status message.Status, retried int, payload message.Payload) Result {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartDeliverySpan(ctx, msgID.String(), retried)
	}

	result := s.send(ctx, msgID, status, retried, payload)

	if s.tracer != nil {
		statusCode := 0
		if result.Status != nil {
			statusCode = *result.Status
		}
		s.tracer.EndDeliverySpan(span, statusCode, result.LatencyMs, result.errString())
	}
	if s.metrics != nil {
		s.metrics.RecordDelivery(result.outcome(), float64(result.LatencyMs)/1000)
	}
	return result
}

func (s *Sender) send(ctx context.Context, msgID id.ID, status message.Status, retried int, payload message.Payload) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(payload.Data))
	if err != nil {
		return Result{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	for name, value := range payload.Headers.Forward {
		req.Header.Set(name, value)
	}
	req.Header.Set("Done-Message-Id", msgID.String())
	req.Header.Set("Done-Status", string(status))
	req.Header.Set("Done-Retried", strconv.Itoa(retried))
	req.Header.Set("User-Agent", "Done Light")

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is the caller-supplied webhook target; reaching arbitrary hosts is the feature.
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		return Result{Message: err.Error(), LatencyMs: latency}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	statusCode := resp.StatusCode
	if statusCode == http.StatusOK || statusCode == http.StatusCreated {
		return Result{Success: true, Status: &statusCode, LatencyMs: latency}
	}
	return Result{
		Status:    &statusCode,
		Message:   "invalid response status",
		LatencyMs: latency,
	}
}

func (r Result) errString() string {
	if r.Success {
		return ""
	}
	return r.Message
}

func (r Result) outcome() string {
	if r.Success {
		return "sent"
	}
	return "failed"
}

// PostCallback fires a single best-effort POST to url with the given
// forward headers and body, used for the DLQ failure-callback (spec §4.3).
// Unlike Send it does not classify or retry the result — a failure here is
// only logged by the caller, never fed back into the state machine.
func (s *Sender) PostCallback(ctx context.Context, url string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("User-Agent", "Done Light")

	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is the caller-supplied failure callback; reaching arbitrary hosts is the feature.
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	return nil
}
