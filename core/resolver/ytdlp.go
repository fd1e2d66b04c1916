package resolver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"RadioRoyal/logger"
	"RadioRoyal/model"
)

// Tool is the external resolution program.
type Tool interface {
	DirectURL(ctx context.Context, watchURL string) (string, error)
	Title(ctx context.Context, watchURL string) (string, error)
	Playlist(ctx context.Context, playlistURL string) ([]model.PlaylistItem, error)
}

// YtDlp runs the yt-dlp binary.
type YtDlp struct {
	path   string
	format string
}

// NewYtDlp creates a YtDlp tool using the binary at path.
func NewYtDlp(path string) *YtDlp {
	if path == "" {
		path = "yt-dlp"
	}
	return &YtDlp{path: path, format: "bestaudio[ext=m4a]/bestaudio/best"}
}

// DirectURL asks yt-dlp for the best audio stream URL.
func (y *YtDlp) DirectURL(ctx context.Context, watchURL string) (string, error) {
	out, err := y.run(ctx, "-f", y.format, "-g", "--no-playlist", "--no-warnings", watchURL)
	if err != nil {
		return "", err
	}
	for _, line := range splitLines(out) {
		if strings.HasPrefix(line, "http") {
			return line, nil
		}
	}
	return "", fmt.Errorf("yt-dlp returned no url for %s", watchURL)
}

// Title prints the video title only.
func (y *YtDlp) Title(ctx context.Context, watchURL string) (string, error) {
	out, err := y.run(ctx, "--print", "title", "--skip-download", "--no-playlist", "--no-warnings", watchURL)
	if err != nil {
		return "", err
	}
	lines := splitLines(out)
	if len(lines) == 0 {
		return "", fmt.Errorf("yt-dlp returned no title for %s", watchURL)
	}
	return lines[0], nil
}

// Playlist lists entries in flat mode, one "id<TAB>title" line each.
func (y *YtDlp) Playlist(ctx context.Context, playlistURL string) ([]model.PlaylistItem, error) {
	out, err := y.run(ctx, "--flat-playlist", "--no-warnings", "--print", "%(id)s\t%(title)s", playlistURL)
	if err != nil {
		return nil, err
	}
	return parsePlaylist(out), nil
}

func parsePlaylist(out []byte) []model.PlaylistItem {
	items := make([]model.PlaylistItem, 0)
	for _, line := range splitLines(out) {
		id, title, _ := strings.Cut(line, "\t")
		id = strings.TrimSpace(id)
		if !videoIDPattern.MatchString(id) {
			continue
		}
		title = strings.TrimSpace(title)
		if title == "" || title == "NA" {
			title = id
		}
		items = append(items, model.PlaylistItem{ID: id, Title: title, URL: WatchURL(id)})
	}
	return items
}

func (y *YtDlp) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, y.path, args...)
	start := time.Now()
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp stdout pipe error: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp stderr pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("yt-dlp start error: %w", err)
	}

	var stdoutBytes, stderrBytes []byte
	var stdoutErr, stderrErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdoutBytes, stdoutErr = io.ReadAll(stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		stderrBytes, stderrErr = io.ReadAll(stderrPipe)
	}()
	wg.Wait()
	waitErr := cmd.Wait()

	if stdoutErr != nil {
		return nil, fmt.Errorf("yt-dlp stdout read error: %w", stdoutErr)
	}
	if stderrErr != nil {
		return nil, fmt.Errorf("yt-dlp stderr read error: %w", stderrErr)
	}

	stderrText := strings.TrimSpace(string(stderrBytes))
	logger.Debug("yt-dlp finished",
		logger.Strings("args", args),
		logger.Duration("duration", time.Since(start)),
		logger.Int("stdoutBytes", len(stdoutBytes)))

	if waitErr != nil {
		msg := stderrText
		if msg == "" {
			msg = waitErr.Error()
		}
		return nil, fmt.Errorf("yt-dlp error: %s", truncate(msg, 600))
	}
	return stdoutBytes, nil
}

func splitLines(b []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
