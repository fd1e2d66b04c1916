package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"RadioRoyal/logger"
	"RadioRoyal/model"
)

// ManifestName is the optional JSON track list inside a library directory.
const ManifestName = "tracks.json"

// Library is a directory of audio files, m3u playlists and an optional
// tracks.json manifest, kept in a stable order for round-robin selection.
type Library struct {
	name         string
	dir          string
	resolverBase string
	formats      []string
	meta         *MetadataReader

	mu       sync.RWMutex
	tracks   []model.Track
	onChange func([]model.Track)
}

// New creates an unscanned library.
func New(name, dir, resolverBase string) *Library {
	return &Library{
		name:         name,
		dir:          dir,
		resolverBase: resolverBase,
		formats:      []string{".mp3", ".wav", ".flac", ".ogg", ".m4a", ".webm", ".opus", ".aac"},
		meta:         NewMetadataReader(),
	}
}

// Name returns the library name used in logs.
func (l *Library) Name() string { return l.name }

// Dir returns the scanned directory.
func (l *Library) Dir() string { return l.dir }

// OnChange registers fn to be called after every rescan.
func (l *Library) OnChange(fn func([]model.Track)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

func (l *Library) isAudio(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, f := range l.formats {
		if ext == f {
			return true
		}
	}
	return false
}

// Scan walks the directory and replaces the track list. A missing
// directory yields an empty library, not an error.
func (l *Library) Scan(ctx context.Context) error {
	var (
		files     []string
		playlists []string
		manifest  string
	)
	err := filepath.WalkDir(l.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == l.dir {
				return fs.SkipAll
			}
			logger.Warn("library walk error", logger.String("path", p), logger.ErrorField(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case strings.EqualFold(filepath.Ext(p), ".m3u"), strings.EqualFold(filepath.Ext(p), ".m3u8"):
			playlists = append(playlists, p)
		case d.Name() == ManifestName:
			manifest = p
		case l.isAudio(p):
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan library %s: %w", l.name, err)
	}

	sort.Strings(files)
	sort.Strings(playlists)

	var tracks []model.Track
	for _, f := range files {
		t, err := l.meta.Read(f)
		if err != nil {
			logger.Warn("skipping unreadable track", logger.String("path", f), logger.ErrorField(err))
			continue
		}
		tracks = append(tracks, t)
	}
	for _, p := range playlists {
		pl, err := l.readPlaylist(p)
		if err != nil {
			logger.Warn("skipping playlist", logger.String("path", p), logger.ErrorField(err))
			continue
		}
		tracks = append(tracks, pl...)
	}
	if manifest != "" {
		mt, err := l.readManifest(manifest)
		if err != nil {
			logger.Warn("skipping manifest", logger.String("path", manifest), logger.ErrorField(err))
		}
		tracks = append(tracks, mt...)
	}
	tracks = dedupe(tracks)

	l.mu.Lock()
	l.tracks = tracks
	fn := l.onChange
	l.mu.Unlock()

	logger.Info("library scanned", logger.String("library", l.name), logger.String("dir", l.dir), logger.Int("tracks", len(tracks)))
	if fn != nil {
		fn(cloneTracks(tracks))
	}
	return nil
}

func (l *Library) readPlaylist(p string) ([]model.Track, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseM3U(f, filepath.Dir(p), l.resolverBase)
}

type manifestFile struct {
	Tracks []struct {
		Label  string `json:"label"`
		Title  string `json:"title"`
		Artist string `json:"artist"`
		URL    string `json:"url"`
	} `json:"tracks"`
}

func (l *Library) readManifest(p string) ([]model.Track, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var m manifestFile
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	base := filepath.Dir(p)
	var out []model.Track
	for _, e := range m.Tracks {
		if e.URL == "" {
			continue
		}
		t := entryTrack(e.URL, base, l.resolverBase)
		if e.Title != "" {
			t.Title = e.Title
		} else if e.Label != "" {
			t.Title = e.Label
		}
		t.Artist = e.Artist
		out = append(out, t)
	}
	return out, nil
}

func dedupe(in []model.Track) []model.Track {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, t := range in {
		if seen[t.URL] {
			continue
		}
		seen[t.URL] = true
		out = append(out, t)
	}
	return out
}

func cloneTracks(in []model.Track) []model.Track {
	out := make([]model.Track, len(in))
	copy(out, in)
	return out
}

// Tracks returns a copy of the current track list.
func (l *Library) Tracks() []model.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneTracks(l.tracks)
}

// Len returns the number of tracks.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tracks)
}

// IndexOf returns the position of the track with url, or -1.
func (l *Library) IndexOf(url string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, t := range l.tracks {
		if t.URL == url {
			return i
		}
	}
	return -1
}

// At returns the track at i modulo the library size.
func (l *Library) At(i int) (model.Track, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.tracks) == 0 {
		return model.Track{}, false
	}
	i %= len(l.tracks)
	if i < 0 {
		i += len(l.tracks)
	}
	return l.tracks[i], true
}

// Lookup finds the track with url.
func (l *Library) Lookup(url string) (model.Track, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.tracks {
		if t.URL == url {
			return t, true
		}
	}
	return model.Track{}, false
}
