package model

import "time"

// ResolvedSource 已解析的直链，过期后视为未命中
type ResolvedSource struct {
	Key       string    `json:"key"` // canonical watch URL
	DirectURL string    `json:"directUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is no longer usable at now.
func (s ResolvedSource) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// PlaylistItem 播放列表条目
type PlaylistItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}
