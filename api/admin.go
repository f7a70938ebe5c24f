package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dnlfm/done/id"
	"github.com/dnlfm/done/message"
	"github.com/dnlfm/done/queue"
)

const defaultLogLimit = 100

var resetForbidden = map[string]bool{
	"migrations": true,
}

// adminStats handles GET /admin/stats (spec §4.2).
func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// adminRaw handles GET /admin/raw[/<match>].
func (s *Server) adminRaw(w http.ResponseWriter, r *http.Request) {
	match := chi.URLParam(r, "match")
	msgs, err := s.store.Raw(r.Context(), match, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to dump store")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// adminLogs handles GET /admin/logs: the last 100 log entries, newest-first.
func (s *Server) adminLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.FetchAll(r.Context(), defaultLogLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load logs")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// adminLogByMessage handles GET /admin/log/<message_id>: chronological.
func (s *Server) adminLogByMessage(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "message_id")
	msgID, err := id.ParseMessageID(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "malformed message id")
		return
	}

	entries, err := s.store.FetchByMessageID(r.Context(), msgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load logs")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// adminReset handles DELETE /admin/reset[/<match>]. "match" selects which
// table to truncate: "messages", "logs", or empty for both. "migrations" is
// always refused (spec §6.1).
func (s *Server) adminReset(w http.ResponseWriter, r *http.Request) {
	match := chi.URLParam(r, "match")
	if resetForbidden[match] {
		writeError(w, http.StatusBadRequest, "forbidden_table", "table cannot be reset")
		return
	}

	switch match {
	case "messages":
		if err := s.store.Reset(r.Context(), ""); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to reset messages")
			return
		}
	case "logs":
		if err := s.store.Truncate(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to reset logs")
			return
		}
	case "":
		if err := s.store.Reset(r.Context(), ""); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to reset messages")
			return
		}
		if err := s.store.Truncate(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to reset logs")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown_table", "unknown table")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// adminReplayDLQ handles POST /admin/dlq/<id>/replay, a supplemented
// feature adapted from a dead-letter replay capability: it moves a DLQ'd
// message back into DELIVER for another attempt.
func (s *Server) adminReplayDLQ(w http.ResponseWriter, r *http.Request) {
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
	if msg.Status != message.StatusDLQ {
		writeError(w, http.StatusConflict, "invalid_state", "message is not in DLQ")
		return
	}

	// The admin API never mutates message state itself (spec §3.3) — it
	// hands a MESSAGE_RETRY event to the State Manager, which owns the
	// DLQ → DELIVER transition and the subsequent delivery attempt.
	evt, err := queue.New(queue.MessageRetry, queue.ObjectMessages, queue.MessageRef{MessageID: msgID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to build replay event")
		return
	}
	if err := s.store.Enqueue(r.Context(), evt, 0); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to enqueue replay event")
		return
	}
	if s.metrics != nil {
		s.metrics.DLQSize.Dec()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "replaying"})
}
