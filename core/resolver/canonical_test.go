package resolver

import (
	"errors"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	want := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	tests := []string{
		"dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL123&index=4",
		"https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=42s",
		"youtube.com/watch?v=dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ&si=abc",
		"https://youtu.be/dQw4w9WgXcQ?si=tracking",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1",
		"https://www.youtube.com/live/dQw4w9WgXcQ",
		"  https://youtu.be/dQw4w9WgXcQ  ",
	}
	for _, ref := range tests {
		got, err := Canonicalize(ref)
		if err != nil {
			t.Errorf("Canonicalize(%q) error = %v", ref, err)
			continue
		}
		if got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestCanonicalizeInvalid(t *testing.T) {
	tests := []string{
		"",
		"not-a-url",
		"https://vimeo.com/12345",
		"https://www.youtube.com/watch?v=short",
		"https://www.youtube.com/feed/trending",
		"ftp://youtube.com/watch?v=dQw4w9WgXcQ",
	}
	for _, ref := range tests {
		if _, err := Canonicalize(ref); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("Canonicalize(%q) err = %v, want ErrInvalidReference", ref, err)
		}
	}
}

func TestCanonicalPlaylist(t *testing.T) {
	got, err := CanonicalPlaylist("https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLabc_DEF-123")
	if err != nil {
		t.Fatalf("CanonicalPlaylist error = %v", err)
	}
	if got != "https://www.youtube.com/playlist?list=PLabc_DEF-123" {
		t.Errorf("CanonicalPlaylist = %q", got)
	}

	for _, ref := range []string{"not-a-url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "https://example.com/?list=PL1"} {
		if _, err := CanonicalPlaylist(ref); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("CanonicalPlaylist(%q) err = %v, want ErrInvalidReference", ref, err)
		}
	}
}

func TestIsPlaylist(t *testing.T) {
	if !IsPlaylist("https://www.youtube.com/playlist?list=PL1") {
		t.Error("IsPlaylist(playlist page) = false")
	}
	if IsPlaylist("https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1") {
		t.Error("IsPlaylist(watch page) = true")
	}
}

func TestParsePlaylist(t *testing.T) {
	out := []byte("dQw4w9WgXcQ\tNever Gonna\n\nbadid\tskip\n9bZkp7q19f0\tNA\n")
	items := parsePlaylist(out)
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].Title != "Never Gonna" || items[0].URL != WatchURL("dQw4w9WgXcQ") {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].Title != "9bZkp7q19f0" {
		t.Errorf("items[1].Title = %q, want id fallback", items[1].Title)
	}
}
