package server

import (
	"net/http"
	"strconv"

	"RadioRoyal/logger"

	"github.com/gorilla/mux"
)

const (
	defaultBroadcastLimit = 20
	maxBroadcastLimit     = 100
)

// ListBroadcastsHandler lists recent relay sessions from the journal.
func (h *APIHandler) ListBroadcastsHandler(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcast journal is not configured")
		return
	}

	limit := defaultBroadcastLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > maxBroadcastLimit {
		limit = maxBroadcastLimit
	}

	sessions, err := h.journal.ListRecent(r.Context(), limit)
	if err != nil {
		logger.Error("[Broadcasts] 查询失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list broadcasts")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetBroadcastHandler returns one journaled session by relay session ID.
func (h *APIHandler) GetBroadcastHandler(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcast journal is not configured")
		return
	}
	id := mux.Vars(r)["id"]
	session, err := h.journal.GetBySessionID(r.Context(), id)
	if err != nil {
		logger.Error("[Broadcasts] 查询失败", logger.String("sessionId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load broadcast")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "broadcast not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}
