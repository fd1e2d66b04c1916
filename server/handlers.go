package server

import (
	"context"
	"encoding/json"
	"net/http"

	"RadioRoyal/config"
	"RadioRoyal/core/auth"
	"RadioRoyal/core/relay"
	"RadioRoyal/model"
	"RadioRoyal/repository"
)

// SourceResolver is the resolver surface the HTTP handlers use.
type SourceResolver interface {
	ResolveDirectURL(ctx context.Context, ref string) (string, error)
	FetchTitle(ctx context.Context, ref string) (string, error)
	ListPlaylistItems(ctx context.Context, ref string) ([]model.PlaylistItem, error)
}

// StreamProxy copies a direct URL to the caller.
type StreamProxy interface {
	ServeStream(w http.ResponseWriter, r *http.Request, directURL string) error
}

// APIHandler holds the dependencies of every HTTP endpoint.
type APIHandler struct {
	cfg      *config.Config
	resolver SourceResolver
	proxy    StreamProxy
	relay    *relay.Handler
	signer   *auth.Signer
	journal  repository.BroadcastRepository
}

// NewAPIHandler creates a new APIHandler. journal may be nil.
func NewAPIHandler(cfg *config.Config, resolver SourceResolver, proxy StreamProxy, relayHandler *relay.Handler, signer *auth.Signer, journal repository.BroadcastRepository) *APIHandler {
	return &APIHandler{
		cfg:      cfg,
		resolver: resolver,
		proxy:    proxy,
		relay:    relayHandler,
		signer:   signer,
		journal:  journal,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusHandler reports relay health: {ok, rtmpUrl, connections, activeSession}.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	sv := h.relay.Supervisor()
	resp := map[string]interface{}{
		"ok":          true,
		"rtmpUrl":     relay.TargetLabel(h.cfg.RTMPTarget()),
		"connections": sv.Connections(),
	}
	if id, ok := sv.Broadcaster(); ok {
		resp["activeSession"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthHandler 存活检查
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
