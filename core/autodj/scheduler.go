package autodj

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RadioRoyal/core/mixer"
	"RadioRoyal/logger"
	"RadioRoyal/model"
)

// ErrLibraryEmpty nothing to play
var ErrLibraryEmpty = errors.New("autodj: main library is empty")

// State of the scheduler's transition machine.
type State string

const (
	Idle                  State = "idle"
	TransitioningScripted State = "transitioning-scripted"
	TransitioningAdHoc    State = "transitioning-adhoc"
	Narrating             State = "narrating"
)

// Deck is the part of the mixer the scheduler drives.
type Deck interface {
	Play(ctx context.Context, ch mixer.Channel, url string) error
	IsPlaying(ch mixer.Channel) bool
	Gain(ch mixer.Channel) float64
	FadeChannelGain(ctx context.Context, ch mixer.Channel, target float64, d time.Duration) error
	WaitPlaying(ctx context.Context, ch mixer.Channel, timeout time.Duration) error
}

// Library is an ordered track list.
type Library interface {
	Len() int
	At(i int) (model.Track, bool)
	IndexOf(url string) int
}

// Options tune the scheduler.
type Options struct {
	// Overlap starts the track first and narrates over it, ducked.
	Overlap            bool
	DuckFloor          float64
	DuckFade           time.Duration
	WaitPlayingTimeout time.Duration
	PreEndThreshold    time.Duration
	LivenessInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.DuckFloor <= 0 {
		o.DuckFloor = 0.25
	}
	if o.DuckFade <= 0 {
		o.DuckFade = 400 * time.Millisecond
	}
	if o.WaitPlayingTimeout <= 0 {
		o.WaitPlayingTimeout = 3 * time.Second
	}
	if o.PreEndThreshold <= 0 {
		o.PreEndThreshold = 5 * time.Second
	}
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = 4 * time.Second
	}
	return o
}

// Status is a snapshot of the scheduler.
type Status struct {
	Enabled         bool   `json:"enabled"`
	Busy            bool   `json:"busy"`
	State           State  `json:"state"`
	ProgramStep     int    `json:"programStep"`
	PlayCount       int    `json:"playCount"`
	MainIndex       int    `json:"mainIndex"`
	BedIndex        int    `json:"bedIndex"`
	PreAnnouncedURL string `json:"preAnnouncedUrl,omitempty"`
	Current         string `json:"current,omitempty"`
	LastError       string `json:"lastError,omitempty"`
}

type transition struct {
	track    model.Track
	scripted bool
	step     int
	line     string
}

// Scheduler is the Auto DJ. Every entry point goes through one mutex, and
// the busy flag admits at most one transition at a time.
type Scheduler struct {
	deck   Deck
	main   Library
	bed    Library
	voice  Speaker
	script *Script
	opts   Options

	mu           sync.Mutex
	ctx          context.Context
	enabled      bool
	busy         bool
	state        State
	programStep  int
	playCount    int
	mainIndex    int
	bedIndex     int
	preAnnounced string
	preBusy      bool
	ducks        int
	current      string
	lastErr      string

	wg sync.WaitGroup
}

// New creates a disabled scheduler. bed and voice may be nil.
func New(deck Deck, main, bed Library, voice Speaker, script *Script, opts Options) *Scheduler {
	if script == nil {
		script = NewScript("Rádio Royal", "Royal")
	}
	return &Scheduler{
		deck:   deck,
		main:   main,
		bed:    bed,
		voice:  voice,
		script: script,
		opts:   opts.withDefaults(),
		ctx:    context.Background(),
		state:  Idle,
	}
}

// Status returns a snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:         s.enabled,
		Busy:            s.busy,
		State:           s.state,
		ProgramStep:     s.programStep,
		PlayCount:       s.playCount,
		MainIndex:       s.mainIndex,
		BedIndex:        s.bedIndex,
		PreAnnouncedURL: s.preAnnounced,
		Current:         s.current,
		LastError:       s.lastErr,
	}
}

// Wait blocks until in-flight transitions and narrations finish.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Run drives the liveness check until ctx is done. Transitions started
// while Run is active use ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.opts.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			if err := s.OnLivenessTick(); err != nil {
				logger.Debug("autodj liveness", logger.ErrorField(err))
			}
		}
	}
}

// OnToggle enables or disables the Auto DJ. Enabling restarts the
// scripted program and starts playback when the main channel is idle.
// Disabling never interrupts a transition in flight.
func (s *Scheduler) OnToggle(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	logger.Info("autodj toggled", logger.Bool("enabled", enabled))
	if !enabled {
		return nil
	}
	s.programStep = 0
	if s.main.Len() == 0 {
		return nil
	}
	return s.requestLocked("")
}

// OnMainEnded is called when the main channel finished url.
func (s *Scheduler) OnMainEnded(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preAnnounced == url {
		s.preAnnounced = ""
	}
	if !s.enabled {
		return nil
	}
	return s.requestLocked(url)
}

// OnMainStopped is called when the main channel stopped without being
// asked to, e.g. a source error. The failed url is skipped.
func (s *Scheduler) OnMainStopped(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil
	}
	return s.requestLocked(url)
}

// OnLivenessTick restarts playback when the main channel sits idle.
func (s *Scheduler) OnLivenessTick() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.main.Len() == 0 {
		return nil
	}
	return s.requestLocked("")
}

// OnBedEnded advances the background bed.
func (s *Scheduler) OnBedEnded() {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if enabled {
		s.ensureBed(s.context())
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// requestLocked is the single transition decision.
func (s *Scheduler) requestLocked(after string) error {
	if s.busy || s.deck.IsPlaying(mixer.Main) {
		return nil
	}
	n := s.main.Len()
	if n == 0 {
		s.lastErr = ErrLibraryEmpty.Error()
		logger.Warn("autodj has nothing to play")
		return ErrLibraryEmpty
	}

	idx := s.mainIndex
	if after != "" {
		if i := s.main.IndexOf(after); i >= 0 {
			idx = i + 1
		}
	}
	idx %= n
	track, ok := s.main.At(idx)
	if !ok {
		return ErrLibraryEmpty
	}
	s.mainIndex = (idx + 1) % n
	s.busy = true

	t := transition{track: track}
	if s.programStep < ProgramSteps {
		t.scripted = true
		t.step = s.programStep
		s.state = TransitioningScripted
	} else {
		s.state = TransitioningAdHoc
	}
	if s.voice != nil {
		switch {
		case t.scripted:
			t.line = s.script.Scripted(t.step, track)
		case s.playCount%2 == 0:
			t.line = s.script.AdHoc(track, s.playCount/2)
		}
	}

	logger.Info("autodj transition",
		logger.String("state", string(s.state)),
		logger.String("track", track.DisplayName()),
		logger.Int("programStep", s.programStep),
		logger.Int("playCount", s.playCount),
		logger.Bool("narrated", t.line != ""))

	ctx := s.ctx
	s.wg.Add(1)
	go s.runTransition(ctx, t)
	return nil
}

func (s *Scheduler) runTransition(ctx context.Context, t transition) {
	defer s.wg.Done()
	started := false
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("autodj transition panic: %v", r)
			logger.Error("autodj transition panicked", logger.Any("panic", r))
		}
		if !started {
			if perr := s.deck.Play(ctx, mixer.Main, t.track.URL); perr != nil {
				err = errors.Join(err, perr)
				logger.Warn("autodj fallback playback failed", logger.String("url", t.track.URL), logger.ErrorField(perr))
			}
		}

		s.mu.Lock()
		s.busy = false
		s.state = Idle
		s.playCount++
		if t.scripted {
			s.programStep++
		}
		s.current = t.track.URL
		if err != nil {
			s.lastErr = err.Error()
		} else {
			s.lastErr = ""
		}
		s.mu.Unlock()
	}()

	s.ensureBed(ctx)
	err = s.narrateAndPlay(ctx, t, &started)
	if err != nil {
		logger.Warn("autodj transition degraded", logger.String("track", t.track.URL), logger.ErrorField(err))
	}
}

func (s *Scheduler) narrateAndPlay(ctx context.Context, t transition, started *bool) error {
	if t.line == "" {
		if err := s.deck.Play(ctx, mixer.Main, t.track.URL); err != nil {
			return err
		}
		*started = true
		return nil
	}

	if s.opts.Overlap {
		if err := s.deck.Play(ctx, mixer.Main, t.track.URL); err != nil {
			return err
		}
		*started = true
		if err := s.deck.WaitPlaying(ctx, mixer.Main, s.opts.WaitPlayingTimeout); err != nil {
			return fmt.Errorf("main never started: %w", err)
		}
		s.setState(Narrating)
		return s.duckAndSpeak(ctx, t.line)
	}

	s.setState(Narrating)
	speakErr := s.voice.Speak(ctx, t.line)
	if err := s.deck.Play(ctx, mixer.Main, t.track.URL); err != nil {
		return errors.Join(speakErr, err)
	}
	*started = true
	return speakErr
}

// duckAndSpeak lowers main to the floor, speaks, and restores the gain.
// Narrations may overlap; only the last one to finish restores main.
func (s *Scheduler) duckAndSpeak(ctx context.Context, line string) error {
	s.mu.Lock()
	s.ducks++
	s.mu.Unlock()
	if err := s.deck.FadeChannelGain(ctx, mixer.Main, s.opts.DuckFloor, s.opts.DuckFade); err != nil {
		logger.Debug("duck fade interrupted", logger.ErrorField(err))
	}
	speakErr := s.voice.Speak(ctx, line)

	s.mu.Lock()
	s.ducks--
	last := s.ducks == 0
	s.mu.Unlock()
	if !last {
		return speakErr
	}
	// Gain is the assigned gain; fades never change it.
	restore := s.deck.Gain(mixer.Main)
	if err := s.deck.FadeChannelGain(context.WithoutCancel(ctx), mixer.Main, restore, s.opts.DuckFade); err != nil {
		logger.Debug("restore fade interrupted", logger.ErrorField(err))
	}
	return speakErr
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// ensureBed starts the next bed track when none is playing. Failures only log.
func (s *Scheduler) ensureBed(ctx context.Context) {
	if s.bed == nil || s.bed.Len() == 0 || s.deck.IsPlaying(mixer.Background) {
		return
	}
	s.mu.Lock()
	track, ok := s.bed.At(s.bedIndex)
	s.bedIndex = (s.bedIndex + 1) % s.bed.Len()
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.deck.Play(ctx, mixer.Background, track.URL); err != nil {
		logger.Warn("background bed unavailable", logger.String("url", track.URL), logger.ErrorField(err))
	}
}

// OnMainProgress fires the pre-end narration once per play-through when
// less than the threshold remains. It does not take the busy flag.
func (s *Scheduler) OnMainProgress(url string, elapsed, duration float64) {
	s.mu.Lock()
	remaining := duration - elapsed
	if !s.enabled || s.voice == nil || url == "" || duration <= 0 ||
		remaining <= 0 || remaining >= s.opts.PreEndThreshold.Seconds() ||
		s.preAnnounced == url || s.preBusy {
		s.mu.Unlock()
		return
	}
	s.preAnnounced = url
	s.preBusy = true

	idx := s.mainIndex
	if i := s.main.IndexOf(url); i >= 0 {
		idx = i + 1
	}
	next, ok := s.main.At(idx)
	ctx := s.ctx
	s.mu.Unlock()

	if !ok {
		s.mu.Lock()
		s.preBusy = false
		s.mu.Unlock()
		return
	}

	logger.Info("autodj pre-end narration", logger.String("url", url), logger.String("next", next.DisplayName()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("pre-end narration panicked", logger.Any("panic", r))
			}
			s.mu.Lock()
			s.preBusy = false
			s.mu.Unlock()
		}()
		if err := s.duckAndSpeak(ctx, s.script.ComingUp(next)); err != nil {
			logger.Warn("pre-end narration failed", logger.ErrorField(err))
		}
	}()
}
