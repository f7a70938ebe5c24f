package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/manager"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
)

const maxIngressBody = 1 << 20 // 1MiB

type createResponse struct {
	ID        string    `json:"id"`
	PublishAt time.Time `json:"publish_at"`
}

// createMessage handles POST /messages/<callback-url> (spec §6.1). It
// never touches the Message Store directly: it builds a MESSAGE_RECEIVED
// event and hands it to the queue, returning 201 immediately. The State
// Manager is solely responsible for persisting the message.
func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	targetURL := chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}
	if targetURL == "" {
		writeError(w, http.StatusBadRequest, "invalid_url", "callback URL is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngressBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid_body", "body must be valid JSON")
		return
	}

	now := time.Now().UTC()
	headers, publishAt, err := parseIngressHeaders(r.Header, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_headers", err.Error())
		return
	}

	messageID := id.NewMessageID()
	payload := manager.ReceivedPayload{
		MessageID: messageID,
		URL:       targetURL,
		Data:      json.RawMessage(body),
		Headers:   headers,
		PublishAt: publishAt,
	}

	evt, err := queue.New(queue.MessageReceived, queue.ObjectMessages, payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to build event")
		return
	}

	if err := s.store.Enqueue(r.Context(), evt, 0); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to enqueue message")
		return
	}
	if s.metrics != nil {
		s.metrics.MessagesCreatedTotal.Inc()
	}

	writeJSON(w, http.StatusCreated, createResponse{ID: messageID.String(), PublishAt: publishAt})
}

// getMessage handles GET /messages/<id>.
func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	msgID, err := id.ParseMessageID(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "malformed message id")
		return
	}

	msg, err := s.store.FetchOne(r.Context(), msgID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "message not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// listByStatus handles GET /messages/by-status/<status>.
func (s *Server) listByStatus(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "status")
	status, err := message.ParseStatus(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", "unknown status")
		return
	}

	msgs, err := s.store.FetchByStatus(r.Context(), status, message.ListFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
