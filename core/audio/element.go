package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/faiface/beep"

	"RadioRoyal/core/mixer"
	"RadioRoyal/logger"
)

// element plays one source at a time. Remote sources are downloaded to a
// temp file first; formats beep cannot decode go through ffmpeg.
type element struct {
	rt *Runtime

	mu          sync.Mutex
	src         string
	loadedSrc   string
	stream      beep.StreamSeekCloser
	out         beep.Streamer
	srcRate     beep.SampleRate
	tmpFiles    []string
	paused      bool
	ended       bool
	pendingSeek float64
	sinceUpdate int
	sourced     bool
	listener    mixer.ElementListener
}

func newElement(rt *Runtime) *element {
	return &element{rt: rt, paused: true}
}

func (e *element) Src() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// SetSrc switches the source; the element pauses until played again.
func (e *element) SetSrc(u string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u == e.src {
		return
	}
	e.src = u
	e.paused = true
	e.ended = false
	e.pendingSeek = 0
}

func (e *element) SetListener(l mixer.ElementListener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// Load fetches and decodes the current source if it is not loaded yet.
func (e *element) Load(ctx context.Context) error {
	e.mu.Lock()
	src := e.src
	if src == "" {
		e.mu.Unlock()
		return mixer.ErrNoSource
	}
	if e.loadedSrc == src && e.stream != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	stream, format, tmp, err := e.rt.open(ctx, src)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.src != src {
		// superseded while loading
		stream.Close()
		removeFiles(tmp)
		return nil
	}
	e.releaseLocked()
	e.stream = stream
	e.srcRate = format.SampleRate
	e.out = stream
	if format.SampleRate != e.rt.format.SampleRate {
		e.out = beep.Resample(4, format.SampleRate, e.rt.format.SampleRate, stream)
	}
	e.tmpFiles = tmp
	e.loadedSrc = src
	e.ended = false
	if e.pendingSeek > 0 {
		e.seekLocked(e.pendingSeek)
	}
	e.pendingSeek = 0
	return nil
}

func (e *element) Play(ctx context.Context) error {
	if err := e.Load(ctx); err != nil {
		return err
	}
	if e.rt.State() == mixer.RuntimeClosed {
		return ErrRuntimeClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return mixer.ErrNoSource
	}
	if e.ended || e.stream.Position() >= e.stream.Len() {
		e.seekLocked(0)
	}
	e.paused = false
	e.ended = false
	return nil
}

func (e *element) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil || e.loadedSrc != e.src {
		return e.pendingSeek
	}
	return e.srcRate.D(e.stream.Position()).Seconds()
}

func (e *element) SetCurrentTime(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil || e.loadedSrc != e.src {
		e.pendingSeek = seconds
		return nil
	}
	return e.seekLocked(seconds)
}

func (e *element) seekLocked(seconds float64) error {
	pos := e.srcRate.N(time.Duration(seconds * float64(time.Second)))
	if pos < 0 {
		pos = 0
	}
	if l := e.stream.Len(); pos > l {
		pos = l
	}
	if err := e.stream.Seek(pos); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	e.ended = false
	return nil
}

func (e *element) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil || e.loadedSrc != e.src {
		return 0
	}
	return e.srcRate.D(e.stream.Len()).Seconds()
}

// produce is called by the pump under the runtime lock.
func (e *element) produce(buf [][2]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused || e.out == nil || e.loadedSrc != e.src {
		return
	}

	n, ok := e.out.Stream(buf)
	src, l := e.src, e.listener

	e.sinceUpdate += n
	if e.sinceUpdate >= int(e.rt.format.SampleRate)/4 && l.OnTimeUpdate != nil {
		e.sinceUpdate = 0
		cur := e.srcRate.D(e.stream.Position()).Seconds()
		dur := e.srcRate.D(e.stream.Len()).Seconds()
		e.rt.dispatch(func() { l.OnTimeUpdate(src, cur, dur) })
	}

	if ok && n == len(buf) {
		return
	}
	if err := e.out.Err(); err != nil {
		e.paused = true
		if l.OnError != nil {
			e.rt.dispatch(func() { l.OnError(src, err) })
		}
		return
	}
	if !ok || e.stream.Position() >= e.stream.Len() {
		e.paused = true
		e.ended = true
		if l.OnEnded != nil {
			e.rt.dispatch(func() { l.OnEnded(src) })
		}
	}
}

func (e *element) releaseLocked() {
	if e.stream != nil {
		e.stream.Close()
	}
	removeFiles(e.tmpFiles)
	e.stream, e.out, e.tmpFiles = nil, nil, nil
	e.loadedSrc = ""
}

func (e *element) release() {
	e.mu.Lock()
	e.paused = true
	e.releaseLocked()
	e.mu.Unlock()
}

func removeFiles(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// open resolves src to a decoded stream. The returned temp files belong to
// the stream and are removed when it is released.
func (r *Runtime) open(ctx context.Context, src string) (beep.StreamSeekCloser, beep.Format, []string, error) {
	path, ext, tmp, err := r.fetch(ctx, src)
	if err != nil {
		return nil, beep.Format{}, nil, err
	}

	if IsNative(ext) {
		s, format, err := decodeFile(path, ext)
		if err == nil {
			return s, format, tmp, nil
		}
		logger.Debug("native decode failed, using ffmpeg", logger.String("src", src), logger.ErrorField(err))
	}

	wavFile, err := os.CreateTemp(r.opts.TempDir, "radioroyal-*.wav")
	if err != nil {
		removeFiles(tmp)
		return nil, beep.Format{}, nil, err
	}
	wavFile.Close()
	tmp = append(tmp, wavFile.Name())

	if err := r.ffmpeg.TranscodeToWAV(ctx, path, wavFile.Name(), int(r.format.SampleRate), r.format.NumChannels); err != nil {
		removeFiles(tmp)
		return nil, beep.Format{}, nil, err
	}
	s, format, err := decodeFile(wavFile.Name(), ".wav")
	if err != nil {
		removeFiles(tmp)
		return nil, beep.Format{}, nil, err
	}
	return s, format, tmp, nil
}

// fetch returns a local path for src, downloading http(s) sources.
func (r *Runtime) fetch(ctx context.Context, src string) (path, ext string, tmp []string, err error) {
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		if err == nil && u.Scheme == "file" {
			src = u.Path
		}
		if _, statErr := os.Stat(src); statErr != nil {
			return "", "", nil, fmt.Errorf("open source %s: %w", src, statErr)
		}
		return src, filepath.Ext(src), nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", "", nil, err
	}
	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return "", "", nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", nil, fmt.Errorf("fetch %s: upstream status %d", src, resp.StatusCode)
	}

	ext = extFor(u.Path, resp.Header.Get("Content-Type"))
	f, err := os.CreateTemp(r.opts.TempDir, "radioroyal-*"+ext)
	if err != nil {
		return "", "", nil, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", "", nil, fmt.Errorf("download %s: %w", src, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", "", nil, err
	}
	return f.Name(), ext, []string{f.Name()}, nil
}
