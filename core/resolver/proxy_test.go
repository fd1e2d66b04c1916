package resolver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProxyForwardsRangeAndHeaders(t *testing.T) {
	var gotRange string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Range", "bytes 0-3/10")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "4")
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, "abcd")
	}))
	defer upstream.Close()

	p := NewProxy(upstream.Client())
	req := httptest.NewRequest(http.MethodGet, "/youtube?url=x", nil)
	req.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()

	if err := p.ServeStream(rec, req, upstream.URL+"/videoplayback?mime=audio%2Fmp4"); err != nil {
		t.Fatalf("ServeStream: %v", err)
	}
	if gotRange != "bytes=0-3" {
		t.Errorf("upstream Range = %q", gotRange)
	}
	if rec.Code != http.StatusPartialContent {
		t.Errorf("status = %d, want 206", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mp4" {
		t.Errorf("Content-Type = %q, want inferred audio/mp4", ct)
	}
	if cr := rec.Header().Get("Content-Range"); cr != "bytes 0-3/10" {
		t.Errorf("Content-Range = %q", cr)
	}
	if rec.Body.String() != "abcd" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestProxyUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	p := NewProxy(upstream.Client())
	rec := httptest.NewRecorder()
	err := p.ServeStream(rec, httptest.NewRequest(http.MethodGet, "/youtube", nil), upstream.URL)
	if !errors.Is(err, ErrUpstreamProxy) {
		t.Fatalf("err = %v, want ErrUpstreamProxy", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["error"] != MsgUpstreamFailed {
		t.Errorf("error = %q", body["error"])
	}
}

func TestProxyUnreachable(t *testing.T) {
	p := NewProxy(nil)
	rec := httptest.NewRecorder()
	err := p.ServeStream(rec, httptest.NewRequest(http.MethodGet, "/youtube", nil), "http://127.0.0.1:1/x.m4a")
	if !errors.Is(err, ErrUpstreamProxy) || rec.Code != http.StatusBadGateway {
		t.Errorf("err = %v code = %d, want ErrUpstreamProxy and 502", err, rec.Code)
	}
}

func TestInferContentType(t *testing.T) {
	tests := map[string]string{
		"https://x/a.m4a":              "audio/mp4",
		"https://x/a.webm?sig=1":       "audio/webm",
		"https://x/play?mime=audio/ogg": "audio/ogg",
		"https://x/a.mp3":              "audio/mpeg",
		"https://x/unknown":            "",
	}
	for in, want := range tests {
		if got := InferContentType(in); got != want {
			t.Errorf("InferContentType(%q) = %q, want %q", in, got, want)
		}
	}
}
