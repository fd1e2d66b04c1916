package library

import (
	"bufio"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"RadioRoyal/core/resolver"
	"RadioRoyal/model"
)

// ParseM3U reads an (extended) m3u playlist. Relative entries are resolved
// against baseDir; YouTube entries are rewritten to the resolver proxy.
func ParseM3U(r io.Reader, baseDir, resolverBase string) ([]model.Track, error) {
	var (
		tracks  []model.Track
		pending string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			if i := strings.Index(line, ","); i >= 0 {
				pending = strings.TrimSpace(line[i+1:])
			}
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		t := entryTrack(line, baseDir, resolverBase)
		if pending != "" {
			t.Artist, t.Title = splitArtistTitle(pending)
			pending = ""
		}
		tracks = append(tracks, t)
	}
	return tracks, sc.Err()
}

func entryTrack(line, baseDir, resolverBase string) model.Track {
	if strings.Contains(line, "youtu") {
		if canonical, err := resolver.Canonicalize(line); err == nil {
			return model.Track{
				ID:     trackID(canonical),
				Title:  canonical,
				URL:    ProxyURL(resolverBase, canonical),
				Source: "youtube",
			}
		}
	}
	if u, err := url.Parse(line); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return model.Track{ID: trackID(line), Title: titleFromName(u.Path), URL: line, Source: "m3u"}
	}
	p := line
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, filepath.FromSlash(p))
	}
	return model.Track{ID: trackID(p), Title: titleFromName(p), URL: p, Source: "m3u"}
}

// ProxyURL is the resolver endpoint that streams a YouTube reference.
func ProxyURL(resolverBase, ref string) string {
	return strings.TrimRight(resolverBase, "/") + "/youtube?url=" + url.QueryEscape(ref)
}

// splitArtistTitle splits "Artist - Title".
func splitArtistTitle(s string) (artist, title string) {
	if i := strings.Index(s, " - "); i > 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+3:])
	}
	return "", s
}
