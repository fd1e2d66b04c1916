package resolver

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	videoIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	playlistIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)
)

// WatchURL is the canonical form every video reference is reduced to.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// PlaylistURL is the canonical playlist form.
func PlaylistURL(id string) string {
	return "https://www.youtube.com/playlist?list=" + id
}

// Canonicalize reduces watch, short-link, shorts, embed, live, mobile and
// music references (or a bare id) to WatchURL form. Playlist, index,
// timestamp and tracking parameters are dropped.
func Canonicalize(ref string) (string, error) {
	id, err := VideoID(ref)
	if err != nil {
		return "", err
	}
	return WatchURL(id), nil
}

// VideoID extracts the 11-character video id from ref.
func VideoID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrInvalidReference)
	}
	if videoIDPattern.MatchString(ref) {
		return ref, nil
	}

	u, err := parseLoose(ref)
	if err != nil {
		return "", err
	}

	var id string
	switch host := normalizeHost(u.Hostname()); host {
	case "youtu.be":
		id = firstSegment(u.Path)
	case "youtube.com", "youtube-nocookie.com":
		p := strings.TrimSuffix(u.Path, "/")
		switch {
		case p == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(p, "/shorts/"), strings.HasPrefix(p, "/embed/"),
			strings.HasPrefix(p, "/live/"), strings.HasPrefix(p, "/v/"):
			parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
			if len(parts) >= 2 {
				id = parts[1]
			}
		}
	default:
		return "", fmt.Errorf("%w: unsupported host %q", ErrInvalidReference, u.Hostname())
	}

	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: no video id in %q", ErrInvalidReference, ref)
	}
	return id, nil
}

// CanonicalPlaylist validates a playlist reference and returns PlaylistURL form.
func CanonicalPlaylist(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty playlist reference", ErrInvalidReference)
	}
	u, err := parseLoose(ref)
	if err != nil {
		return "", err
	}
	switch normalizeHost(u.Hostname()) {
	case "youtube.com", "youtu.be":
	default:
		return "", fmt.Errorf("%w: unsupported host %q", ErrInvalidReference, u.Hostname())
	}
	list := u.Query().Get("list")
	if !playlistIDPattern.MatchString(list) {
		return "", fmt.Errorf("%w: no playlist id in %q", ErrInvalidReference, ref)
	}
	return PlaylistURL(list), nil
}

// IsPlaylist reports whether ref names a playlist page rather than a video.
func IsPlaylist(ref string) bool {
	u, err := parseLoose(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	return strings.TrimSuffix(u.Path, "/") == "/playlist" && u.Query().Get("list") != ""
}

func parseLoose(ref string) (*url.URL, error) {
	if !strings.Contains(ref, "://") {
		ref = "https://" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidReference, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidReference)
	}
	return u, nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	for _, prefix := range []string{"www.", "m.", "music."} {
		host = strings.TrimPrefix(host, prefix)
	}
	return host
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
