package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"RadioRoyal/config"
	"RadioRoyal/core/audio"
	"RadioRoyal/core/autodj"
	"RadioRoyal/core/library"
	"RadioRoyal/core/mixer"
	"RadioRoyal/core/relay"
	"RadioRoyal/core/tts"
	"RadioRoyal/logger"

	"golang.org/x/sync/errgroup"
)

const (
	watchDebounce  = 500 * time.Millisecond
	ackTimeout     = 15 * time.Second
	chunkSize      = 16 * 1024
	minBackoff     = 2 * time.Second
	maxBackoff     = 30 * time.Second
	narrationGain  = 1.0
	defaultBitrate = "128k"
	meterInterval  = 200 * time.Millisecond
)

// controller is the part of the Auto DJ driven by mixer events.
type controller interface {
	OnMainEnded(url string) error
	OnMainStopped(url string) error
	OnMainProgress(url string, elapsed, duration float64)
	OnBedEnded()
}

// Studio wires the mixing graph, the track libraries, the Auto DJ and the
// relay client into one headless broadcast station.
type Studio struct {
	cfg     *config.Config
	graph   *mixer.Graph
	main    *library.Library
	bed     *library.Library
	dj      *autodj.Scheduler
	encoder *audio.CaptureEncoder
	hub     *ConsoleHub
	monitor io.WriteCloser

	mu           sync.Mutex
	broadcasting bool
	rtmpLabel    string
	relayErr     string
}

// New builds a studio from cfg. factory may be nil to use the ffmpeg-backed
// audio runtime.
func New(cfg *config.Config, factory mixer.RuntimeFactory) (*Studio, error) {
	s := &Studio{cfg: cfg, hub: NewConsoleHub()}

	if factory == nil {
		opts := audio.Options{
			SampleRate: cfg.AudioSampleRate,
			FFmpegPath: cfg.FFmpegPath,
			MicFormat:  cfg.MicInputFormat,
			MicDevice:  cfg.MicInputDevice,
		}
		if cfg.MonitorOutput != "" {
			f, err := os.OpenFile(cfg.MonitorOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
			if err != nil {
				return nil, fmt.Errorf("open monitor output: %w", err)
			}
			s.monitor = f
			opts.Monitor = f
		}
		factory = audio.Factory(opts)
	}
	s.graph = mixer.NewGraph(factory)

	s.main = library.New("main", cfg.StudioMainDir, cfg.ResolverBaseURL)
	s.bed = library.New("bed", cfg.StudioBedDir, cfg.ResolverBaseURL)

	var voice autodj.Speaker
	synth, err := tts.New(cfg, nil)
	switch {
	case errors.Is(err, tts.ErrNotConfigured):
		logger.Warn("TTS not configured, Auto DJ runs without narration")
	case err != nil:
		s.closeMonitor()
		return nil, err
	default:
		voice = autodj.NewNarrator(synth, s.graph, narrationGain)
	}

	script := autodj.NewScript(cfg.StationName, cfg.HostName)
	s.dj = autodj.New(s.graph, s.main, s.bed, voice, script, autodj.Options{
		Overlap:          cfg.AutoDJNarrationOverlap,
		LivenessInterval: cfg.AutoDJLivenessInterval,
	})

	bitrate := cfg.AudioBitrate
	if bitrate == "" {
		bitrate = defaultBitrate
	}
	s.encoder = audio.NewCaptureEncoder(cfg.FFmpegPath, bitrate)
	return s, nil
}

// Graph returns the mixing graph.
func (s *Studio) Graph() *mixer.Graph { return s.graph }

// AutoDJ returns the scheduler.
func (s *Studio) AutoDJ() *autodj.Scheduler { return s.dj }

// Libraries returns the main and bed libraries.
func (s *Studio) Libraries() (main, bed *library.Library) { return s.main, s.bed }

// Run starts the station and blocks until ctx is done. broadcast controls
// whether the master mix is streamed to the relay.
func (s *Studio) Run(ctx context.Context, broadcast bool) error {
	defer s.closeMonitor()
	defer s.graph.Close()

	if _, err := s.graph.EnsureRuntime(ctx); err != nil {
		return err
	}

	for _, lib := range []*library.Library{s.main, s.bed} {
		if err := lib.Scan(ctx); err != nil {
			logger.Warn("library scan failed", logger.String("library", lib.Name()), logger.ErrorField(err))
		}
		logger.Info("library loaded",
			logger.String("library", lib.Name()),
			logger.String("dir", lib.Dir()),
			logger.Int("tracks", lib.Len()))
	}

	if s.cfg.MicInputDevice != "" {
		if err := s.graph.ConnectMicrophone(ctx); err != nil {
			logger.Warn("microphone unavailable", logger.ErrorField(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, lib := range []*library.Library{s.main, s.bed} {
		lib := lib
		g.Go(func() error {
			// 目录不存在时只是不再热更新
			if err := lib.Watch(gctx, watchDebounce); err != nil {
				logger.Warn("library watch disabled", logger.String("library", lib.Name()), logger.ErrorField(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		routeEvents(gctx, s.graph.Events(), s.dj, s.hub.PublishEvent)
		return nil
	})
	g.Go(func() error {
		s.meterLoop(gctx)
		return nil
	})
	g.Go(func() error { return s.dj.Run(gctx) })
	if broadcast {
		g.Go(func() error { return s.broadcastLoop(gctx) })
	}

	if s.cfg.AutoDJEnabled {
		if err := s.dj.OnToggle(true); err != nil {
			logger.Warn("autodj start", logger.ErrorField(err))
		}
	}

	err := g.Wait()
	s.dj.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// routeEvents feeds mixer events into the Auto DJ until ctx is done.
// publish, when set, sees every event after routing.
func routeEvents(ctx context.Context, events <-chan mixer.Event, c controller, publish func(mixer.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			route(ev, c)
			if publish != nil {
				publish(ev)
			}
		}
	}
}

type meter struct {
	Channel mixer.Channel `json:"channel"`
	Level   float64       `json:"level"`
	Gain    float64       `json:"gain"`
}

// meterLoop pushes channel levels to connected consoles.
func (s *Studio) meterLoop(ctx context.Context) {
	ticker := time.NewTicker(meterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Len() == 0 {
				continue
			}
			snap := s.graph.Snapshot()
			meters := make([]meter, 0, len(snap))
			for _, st := range snap {
				meters = append(meters, meter{Channel: st.Channel, Level: st.Level, Gain: st.Gain})
			}
			s.hub.Publish(MsgTypeMeters, meters)
		}
	}
}

func route(ev mixer.Event, c controller) {
	var err error
	switch ev.Channel {
	case mixer.Main:
		switch ev.Type {
		case mixer.EventEnded:
			if ev.Err != nil {
				logger.Warn("main channel error", logger.String("url", ev.URL), logger.ErrorField(ev.Err))
			}
			err = c.OnMainEnded(ev.URL)
		case mixer.EventStopped:
			if !ev.Requested {
				err = c.OnMainStopped(ev.URL)
			}
		case mixer.EventProgress:
			c.OnMainProgress(ev.URL, ev.Elapsed, ev.Duration)
		}
	case mixer.Background:
		if ev.Type == mixer.EventEnded {
			c.OnBedEnded()
		}
	}
	if err != nil && !errors.Is(err, autodj.ErrLibraryEmpty) {
		logger.Warn("autodj event", logger.String("event", string(ev.Type)), logger.ErrorField(err))
	}
}

// broadcastLoop keeps a relay session alive, reconnecting with backoff.
func (s *Studio) broadcastLoop(ctx context.Context) error {
	backoff := minBackoff
	for {
		started := time.Now()
		err := s.broadcastOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.setRelayErr(err)
		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		logger.Warn("broadcast interrupted, retrying",
			logger.Duration("backoff", backoff),
			logger.ErrorField(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Studio) broadcastOnce(ctx context.Context) error {
	stream, err := s.graph.CaptureMasterStream(ctx)
	if err != nil {
		return err
	}
	client, err := relay.Dial(ctx, s.cfg.RelayWSURL, s.cfg.RelayToken, s.onRelayMessage)
	if err != nil {
		return err
	}
	defer client.Close()

	enc, err := s.encoder.Start(ctx, stream)
	if err != nil {
		return err
	}
	defer enc.Close()

	if err := client.Start(enc.MimeType()); err != nil {
		return fmt.Errorf("relay start: %w", err)
	}
	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	err = client.WaitAck(ackCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("relay ack: %w", err)
	}

	s.setBroadcasting(true)
	defer s.setBroadcasting(false)
	logger.Info("broadcast started", logger.String("relay", s.cfg.RelayWSURL))

	err = client.Stream(ctx, enc, chunkSize)
	if stopErr := client.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	if err == nil {
		if encErr := enc.Err(); encErr != nil {
			err = fmt.Errorf("capture encoder: %w", encErr)
		} else {
			err = errors.New("capture stream ended")
		}
	}
	return err
}

func (s *Studio) onRelayMessage(msg relay.ServerMessage) {
	switch msg.Type {
	case relay.TypeAck:
		s.mu.Lock()
		s.relayErr = ""
		s.mu.Unlock()
	case relay.TypeStatus:
		s.mu.Lock()
		s.rtmpLabel = msg.RTMPURL
		s.mu.Unlock()
	case relay.TypeFFmpegOutput:
		logger.Debug("relay ffmpeg", logger.String("line", msg.Message))
	}
}

func (s *Studio) setBroadcasting(v bool) {
	s.mu.Lock()
	s.broadcasting = v
	s.mu.Unlock()
}

func (s *Studio) setRelayErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.relayErr = err.Error()
	s.mu.Unlock()
}

func (s *Studio) closeMonitor() {
	if s.monitor != nil {
		s.monitor.Close()
		s.monitor = nil
	}
}

// Status is the studio snapshot served to the operator console.
type Status struct {
	Channels     []mixer.ChannelState `json:"channels"`
	Microphone   bool                 `json:"microphone"`
	AutoDJ       autodj.Status        `json:"autodj"`
	MainTracks   int                  `json:"mainTracks"`
	BedTracks    int                  `json:"bedTracks"`
	Broadcasting bool                 `json:"broadcasting"`
	RTMP         string               `json:"rtmp,omitempty"`
	RelayError   string               `json:"relayError,omitempty"`
}

func (s *Studio) Status() Status {
	st := Status{
		Channels:   s.graph.Snapshot(),
		Microphone: s.graph.MicrophoneActive(),
		AutoDJ:     s.dj.Status(),
		MainTracks: s.main.Len(),
		BedTracks:  s.bed.Len(),
	}
	s.mu.Lock()
	st.Broadcasting = s.broadcasting
	st.RTMP = s.rtmpLabel
	st.RelayError = s.relayErr
	s.mu.Unlock()
	return st
}
