package studio

import (
	"encoding/json"
	"errors"
	"net/http"

	"RadioRoyal/core/mixer"
	"RadioRoyal/logger"

	"github.com/gorilla/mux"
)

type playRequest struct {
	URL string `json:"url"`
}

type gainRequest struct {
	Gain float64 `json:"gain"`
}

type seekRequest struct {
	Seconds float64 `json:"seconds"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// Routes registers the operator console API on r.
func (s *Studio) Routes(r *mux.Router) {
	r.HandleFunc("/studio/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/studio/ws", s.handleConsoleWS)
	r.HandleFunc("/studio/autodj", s.handleAutoDJ).Methods(http.MethodPost)
	r.HandleFunc("/studio/microphone", s.handleMicrophone).Methods(http.MethodPost, http.MethodDelete)
	r.HandleFunc("/studio/channels/{channel}/play", s.handlePlay).Methods(http.MethodPost)
	r.HandleFunc("/studio/channels/{channel}/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/studio/channels/{channel}/toggle", s.handleToggle).Methods(http.MethodPost)
	r.HandleFunc("/studio/channels/{channel}/seek", s.handleSeek).Methods(http.MethodPost)
	r.HandleFunc("/studio/channels/{channel}/gain", s.handleGain).Methods(http.MethodPut)
	r.HandleFunc("/studio/libraries/{name}", s.handleLibrary).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, mixer.ErrUnknownChannel), errors.Is(err, mixer.ErrInvalidGain):
		status = http.StatusBadRequest
	case errors.Is(err, mixer.ErrNoSource):
		status = http.StatusConflict
	case errors.Is(err, mixer.ErrDeviceUnavailable), errors.Is(err, mixer.ErrUnsupportedPlatform):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func channelVar(r *http.Request) (mixer.Channel, error) {
	return mixer.ParseChannel(mux.Vars(r)["channel"])
}

func (s *Studio) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Studio) handleConsoleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.Status())
}

func (s *Studio) handleAutoDJ(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.dj.OnToggle(req.Enabled); err != nil {
		logger.Warn("autodj toggle", logger.ErrorField(err))
	}
	writeJSON(w, http.StatusOK, s.dj.Status())
}

func (s *Studio) handleMicrophone(w http.ResponseWriter, r *http.Request) {
	var err error
	if r.Method == http.MethodDelete {
		err = s.graph.DisconnectMicrophone()
	} else {
		err = s.graph.ConnectMicrophone(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": s.graph.MicrophoneActive()})
}

func (s *Studio) handlePlay(w http.ResponseWriter, r *http.Request) {
	ch, err := channelVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	if err := s.graph.Play(r.Context(), ch, req.URL); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.graph.Snapshot())
}

func (s *Studio) handleStop(w http.ResponseWriter, r *http.Request) {
	ch, err := channelVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.graph.Stop(ch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.graph.Snapshot())
}

func (s *Studio) handleToggle(w http.ResponseWriter, r *http.Request) {
	ch, err := channelVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.graph.Toggle(r.Context(), ch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.graph.Snapshot())
}

func (s *Studio) handleSeek(w http.ResponseWriter, r *http.Request) {
	ch, err := channelVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.graph.Seek(ch, req.Seconds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.graph.Snapshot())
}

func (s *Studio) handleGain(w http.ResponseWriter, r *http.Request) {
	ch, err := channelVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req gainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.graph.SetChannelGain(ch, req.Gain); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"gain": s.graph.Gain(ch)})
}

func (s *Studio) handleLibrary(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["name"] {
	case "main":
		writeJSON(w, http.StatusOK, s.main.Tracks())
	case "bed", "background":
		writeJSON(w, http.StatusOK, s.bed.Tracks())
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown library"})
	}
}
