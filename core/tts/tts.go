package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"RadioRoyal/config"
)

var (
	// ErrEmptyText nothing to say
	ErrEmptyText = errors.New("tts: empty text")
	// ErrNotConfigured no TTS endpoint configured
	ErrNotConfigured = errors.New("tts: endpoint not configured")
)

// Synthesizer turns text into a playable audio URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// New builds the synthesizer selected by TTS_MODE.
func New(cfg *config.Config, client *http.Client) (Synthesizer, error) {
	if cfg.TTSURL == "" {
		return nil, ErrNotConfigured
	}
	switch strings.ToLower(cfg.TTSMode) {
	case "template":
		return NewTemplateSynthesizer(cfg.TTSURL, cfg.TTSVoice, cfg.TTSLang), nil
	case "", "json":
		return NewHTTPSynthesizer(cfg.TTSURL, cfg.TTSVoice, cfg.TTSLang, client), nil
	default:
		return nil, fmt.Errorf("tts: unknown mode %q", cfg.TTSMode)
	}
}

type synthRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Lang  string `json:"lang,omitempty"`
}

type synthResponse struct {
	URL      string `json:"url"`
	AudioURL string `json:"audioUrl"`
	Error    string `json:"error"`
}

// HTTPSynthesizer posts {text, voice, lang} and expects {url} back.
type HTTPSynthesizer struct {
	endpoint string
	voice    string
	lang     string
	client   *http.Client
}

func NewHTTPSynthesizer(endpoint, voice, lang string, client *http.Client) *HTTPSynthesizer {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTTPSynthesizer{endpoint: endpoint, voice: voice, lang: lang, client: client}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	body, err := json.Marshal(synthRequest{Text: text, Voice: s.voice, Lang: s.lang})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("tts: read response: %w", err)
	}
	var out synthResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 400 {
		return "", fmt.Errorf("tts: decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("tts: status %d: %s", resp.StatusCode, msg)
	}

	audio := out.URL
	if audio == "" {
		audio = out.AudioURL
	}
	if audio == "" {
		return "", errors.New("tts: response has no url")
	}
	return resolveRef(s.endpoint, audio)
}

// resolveRef makes relative audio URLs absolute against the endpoint.
func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return ref, nil
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("tts: bad audio url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// TemplateSynthesizer fills {text}, {voice} and {lang} into a URL template,
// for engines that stream speech from a GET endpoint.
type TemplateSynthesizer struct {
	template string
	voice    string
	lang     string
}

func NewTemplateSynthesizer(template, voice, lang string) *TemplateSynthesizer {
	return &TemplateSynthesizer{template: template, voice: voice, lang: lang}
}

func (s *TemplateSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	r := strings.NewReplacer(
		"{text}", url.QueryEscape(text),
		"{voice}", url.QueryEscape(s.voice),
		"{lang}", url.QueryEscape(s.lang),
	)
	return r.Replace(s.template), nil
}
