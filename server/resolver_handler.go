package server

import (
	"errors"
	"net/http"

	"RadioRoyal/core/resolver"
	"RadioRoyal/logger"
)

// YouTubeStreamHandler resolves ?url= and proxies the audio, Range included.
func (h *APIHandler) YouTubeStreamHandler(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("url")
	direct, err := h.resolver.ResolveDirectURL(r.Context(), ref)
	if err != nil {
		h.resolveFailed(w, "[YouTube]", ref, err, resolver.MsgInvalidVideo, resolver.MsgResolveFailed)
		return
	}
	if err := h.proxy.ServeStream(w, r, direct); err != nil {
		logger.Warn("[YouTube] 代理失败", logger.String("url", ref), logger.ErrorField(err))
	}
}

// YouTubeInfoHandler returns {title}.
func (h *APIHandler) YouTubeInfoHandler(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("url")
	title, err := h.resolver.FetchTitle(r.Context(), ref)
	if err != nil {
		h.resolveFailed(w, "[YouTube info]", ref, err, resolver.MsgInvalidVideo, resolver.MsgTitleFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

// YouTubePlaylistHandler returns {items:[{id,title,url}]}.
func (h *APIHandler) YouTubePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("url")
	items, err := h.resolver.ListPlaylistItems(r.Context(), ref)
	if err != nil {
		h.resolveFailed(w, "[YouTube playlist]", ref, err, resolver.MsgInvalidPlaylist, resolver.MsgPlaylistFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// resolveFailed maps resolver errors to 400 for bad references and 500 otherwise.
func (h *APIHandler) resolveFailed(w http.ResponseWriter, tag, ref string, err error, invalidMsg, failedMsg string) {
	if errors.Is(err, resolver.ErrInvalidReference) {
		writeError(w, http.StatusBadRequest, invalidMsg)
		return
	}
	logger.Error(tag+" 解析失败", logger.String("url", ref), logger.ErrorField(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   failedMsg,
		"details": err.Error(),
	})
}
