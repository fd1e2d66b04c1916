package model

import "time"

// Track represents an audio file or stream known to a studio library.
type Track struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist,omitempty"`
	Album    string        `json:"album,omitempty"`
	URL      string        `json:"url"`              // local path or http(s) URL handed to the mixer
	Source   string        `json:"source,omitempty"` // file, m3u, youtube
	Duration time.Duration `json:"duration,omitempty"`
}

// DisplayName is what narration announces for the track.
func (t Track) DisplayName() string {
	if t.Artist != "" && t.Title != "" {
		return t.Title + ", de " + t.Artist
	}
	if t.Title != "" {
		return t.Title
	}
	return t.URL
}
