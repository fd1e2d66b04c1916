package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"RadioRoyal/logger"
)

// Watch rescans the library when files under its directory change. Bursts
// of events are coalesced by debounce. It blocks until ctx is done.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := l.addTree(watcher); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					watcher.Add(event.Name)
				}
			}
			if !l.relevant(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("library watcher error", logger.String("library", l.name), logger.ErrorField(err))
		case <-timer.C:
			if err := l.Scan(ctx); err != nil {
				logger.Warn("library rescan failed", logger.String("library", l.name), logger.ErrorField(err))
			}
		}
	}
}

func (l *Library) addTree(w *fsnotify.Watcher) error {
	if _, err := os.Stat(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	return filepath.Walk(l.dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil || !fi.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (l *Library) relevant(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return l.isAudio(name) || ext == ".m3u" || ext == ".m3u8" || filepath.Base(name) == ManifestName || ext == ""
}
