package resolver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"RadioRoyal/logger"
)

var propagatedHeaders = []string{"Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"}

// Proxy streams a direct URL back to an HTTP caller, honouring Range.
type Proxy struct {
	client *http.Client
}

// NewProxy returns a Proxy; a nil client gets a transport without an
// overall timeout, since streams are long-lived.
func NewProxy(client *http.Client) *Proxy {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 20 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &Proxy{client: client}
}

// ServeStream copies directURL to w. Failures before any byte is written
// become a 502 JSON body and an ErrUpstreamProxy error; the caller only logs.
func (p *Proxy) ServeStream(w http.ResponseWriter, r *http.Request, directURL string) error {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, directURL, nil)
	if err != nil {
		writeUpstreamError(w, err)
		return fmt.Errorf("%w: %v", ErrUpstreamProxy, err)
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) RadioRoyal")

	resp, err := p.client.Do(req)
	if err != nil {
		writeUpstreamError(w, err)
		return fmt.Errorf("%w: %v", ErrUpstreamProxy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("upstream status %d", resp.StatusCode)
		writeUpstreamError(w, err)
		return fmt.Errorf("%w: %v", ErrUpstreamProxy, err)
	}

	h := w.Header()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if inferred := InferContentType(directURL); inferred != "" {
			contentType = inferred
		}
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	for _, k := range propagatedHeaders {
		if v := resp.Header.Get(k); v != "" {
			h.Set(k, v)
		}
	}
	if h.Get("Accept-Ranges") == "" {
		h.Set("Accept-Ranges", "bytes")
	}
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	if err != nil && r.Context().Err() == nil {
		logger.Warn("proxy copy interrupted", logger.Int64("bytes", n), logger.ErrorField(err))
	}
	return nil
}

// InferContentType guesses a media type from URL hints: the mime= query
// parameter used by googlevideo URLs, then the path extension.
func InferContentType(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if mime := u.Query().Get("mime"); mime != "" {
		return mime
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	}
	return ""
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   MsgUpstreamFailed,
		"details": err.Error(),
	})
}
