package library

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"RadioRoyal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b-song.mp3"), "not really audio")
	writeFile(t, filepath.Join(dir, "a-song.wav"), "not really audio")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "sub", "c.flac"), "x")
	writeFile(t, filepath.Join(dir, "set.m3u"), strings.Join([]string{
		"#EXTM3U",
		"#EXTINF:215,Banda Royal - Abertura",
		"sub/c.flac",
		"https://youtu.be/dQw4w9WgXcQ",
		"http://cdn.example.com/jingle.mp3",
	}, "\n"))
	writeFile(t, filepath.Join(dir, ManifestName), `{"tracks":[{"label":"Vinheta","url":"vinheta.mp3"}]}`)

	lib := New("main", dir, "http://localhost:8081/")
	if err := lib.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := lib.Tracks()

	want := []model.Track{
		{Title: "a-song", URL: filepath.Join(dir, "a-song.wav"), Source: "file"},
		{Title: "b-song", URL: filepath.Join(dir, "b-song.mp3"), Source: "file"},
		{Title: "c", URL: filepath.Join(dir, "sub", "c.flac"), Source: "file"},
		{Title: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", URL: "http://localhost:8081/youtube?url=https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3DdQw4w9WgXcQ", Source: "youtube"},
		{Title: "jingle", URL: "http://cdn.example.com/jingle.mp3", Source: "m3u"},
		{Title: "Vinheta", URL: filepath.Join(dir, "vinheta.mp3"), Source: "m3u"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d tracks: %+v", len(got), got)
	}
	for i := range want {
		if got[i].Title != want[i].Title || got[i].URL != want[i].URL || got[i].Source != want[i].Source {
			t.Errorf("track %d = %+v, want %+v", i, got[i], want[i])
		}
		if got[i].ID == "" {
			t.Errorf("track %d has no id", i)
		}
	}

	if i := lib.IndexOf("http://cdn.example.com/jingle.mp3"); i != 4 {
		t.Errorf("IndexOf = %d, want 4", i)
	}
	if tr, ok := lib.At(len(want) + 1); !ok || tr.Title != "b-song" {
		t.Errorf("At wraps to %+v", tr)
	}
}

func TestParseM3UExtinf(t *testing.T) {
	in := "#EXTM3U\n#EXTINF:-1,Royal - Vinheta\nhttp://x/v.mp3\n\n#EXTINF:10,Sem artista\nhttp://x/w.mp3\n"
	tracks, err := ParseM3U(strings.NewReader(in), "/base", "http://r")
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 2 {
		t.Fatalf("tracks = %+v", tracks)
	}
	if tracks[0].Artist != "Royal" || tracks[0].Title != "Vinheta" {
		t.Errorf("first = %+v", tracks[0])
	}
	if tracks[1].Artist != "" || tracks[1].Title != "Sem artista" {
		t.Errorf("second = %+v", tracks[1])
	}
}

func TestScanMissingDirIsEmpty(t *testing.T) {
	lib := New("bed", filepath.Join(t.TempDir(), "nope"), "")
	if err := lib.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if lib.Len() != 0 {
		t.Errorf("Len = %d", lib.Len())
	}
	if _, ok := lib.At(0); ok {
		t.Error("At on empty library returned a track")
	}
}

func TestWatchRescans(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.mp3"), "x")

	lib := New("main", dir, "")
	if err := lib.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	changed := make(chan []model.Track, 4)
	lib.OnChange(func(tracks []model.Track) { changed <- tracks })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- lib.Watch(ctx, 30*time.Millisecond) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "two.mp3"), "x")

	select {
	case tracks := <-changed:
		if len(tracks) != 2 {
			t.Errorf("tracks after rescan = %d, want 2", len(tracks))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no rescan after file creation")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}
