package autodj

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"RadioRoyal/core/mixer"
	"RadioRoyal/model"
)

type fakeDeck struct {
	mu      sync.Mutex
	playing map[mixer.Channel]bool
	gains   map[mixer.Channel]float64
	playErr map[mixer.Channel]error
	calls   []string
}

func newFakeDeck() *fakeDeck {
	return &fakeDeck{
		playing: make(map[mixer.Channel]bool),
		gains:   map[mixer.Channel]float64{mixer.Main: 0.8},
		playErr: make(map[mixer.Channel]error),
	}
}

func (d *fakeDeck) record(format string, args ...interface{}) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDeck) Play(ctx context.Context, ch mixer.Channel, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("play %s %s", ch, url)
	if err := d.playErr[ch]; err != nil {
		return err
	}
	d.playing[ch] = true
	return nil
}

func (d *fakeDeck) IsPlaying(ch mixer.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing[ch]
}

func (d *fakeDeck) Gain(ch mixer.Channel) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gains[ch]
}

func (d *fakeDeck) FadeChannelGain(ctx context.Context, ch mixer.Channel, target float64, dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("fade %s %.2f", ch, target)
	return nil
}

func (d *fakeDeck) WaitPlaying(ctx context.Context, ch mixer.Channel, timeout time.Duration) error {
	if d.IsPlaying(ch) {
		return nil
	}
	return context.DeadlineExceeded
}

func (d *fakeDeck) end(ch mixer.Channel) {
	d.mu.Lock()
	d.playing[ch] = false
	d.mu.Unlock()
}

func (d *fakeDeck) log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDeck) plays(ch mixer.Channel) []string {
	var out []string
	prefix := fmt.Sprintf("play %s ", ch)
	for _, c := range d.log() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, strings.TrimPrefix(c, prefix))
		}
	}
	return out
}

type fakeSpeaker struct {
	mu    sync.Mutex
	deck  *fakeDeck
	lines []string
	err   error
	panic bool
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) error {
	if s.panic {
		panic("synth exploded")
	}
	s.mu.Lock()
	s.lines = append(s.lines, text)
	s.mu.Unlock()
	if s.deck != nil {
		s.deck.mu.Lock()
		s.deck.record("speak")
		s.deck.mu.Unlock()
	}
	return s.err
}

func (s *fakeSpeaker) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

type fakeLibrary []model.Track

func newLibrary(urls ...string) fakeLibrary {
	var lib fakeLibrary
	for _, u := range urls {
		lib = append(lib, model.Track{URL: u, Title: strings.ToUpper(u)})
	}
	return lib
}

func (l fakeLibrary) Len() int { return len(l) }

func (l fakeLibrary) At(i int) (model.Track, bool) {
	if len(l) == 0 {
		return model.Track{}, false
	}
	return l[i%len(l)], true
}

func (l fakeLibrary) IndexOf(url string) int {
	for i, t := range l {
		if t.URL == url {
			return i
		}
	}
	return -1
}

func newScheduler(deck *fakeDeck, main, bed Library, voice Speaker, overlap bool) *Scheduler {
	return New(deck, main, bed, voice, NewScript("Rádio Royal", "Royal"), Options{Overlap: overlap, DuckFade: time.Millisecond})
}

func TestEndedStartsNextTrackOnce(t *testing.T) {
	deck := newFakeDeck()
	s := newScheduler(deck, newLibrary("a", "b"), nil, nil, true)
	s.mu.Lock()
	s.enabled = true
	s.programStep = ProgramSteps
	s.mu.Unlock()

	if err := s.OnMainEnded("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.OnMainEnded("a"); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	if got := deck.plays(mixer.Main); len(got) != 1 || got[0] != "b" {
		t.Fatalf("main plays = %v, want [b]", got)
	}
	if err := s.OnMainEnded("a"); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if got := deck.plays(mixer.Main); len(got) != 1 {
		t.Errorf("ended while main is playing started another track: %v", got)
	}
	if st := s.Status(); st.Busy || st.State != Idle || st.PlayCount != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestRoundRobinWraps(t *testing.T) {
	deck := newFakeDeck()
	s := newScheduler(deck, newLibrary("a", "b", "c"), nil, nil, true)
	if err := s.OnToggle(true); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	for _, ended := range []string{"a", "b", "c"} {
		deck.end(mixer.Main)
		if err := s.OnMainEnded(ended); err != nil {
			t.Fatal(err)
		}
		s.Wait()
	}
	want := []string{"a", "b", "c", "a"}
	got := deck.plays(mixer.Main)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("plays = %v, want %v", got, want)
	}
}

func TestLibraryEmpty(t *testing.T) {
	deck := newFakeDeck()
	s := newScheduler(deck, newLibrary(), nil, nil, true)
	if err := s.OnToggle(true); err != nil {
		t.Fatalf("OnToggle with empty library: %v", err)
	}
	if err := s.OnLivenessTick(); err != nil {
		t.Errorf("liveness with empty library: %v", err)
	}
	if err := s.OnMainEnded("x"); !errors.Is(err, ErrLibraryEmpty) {
		t.Fatalf("err = %v, want ErrLibraryEmpty", err)
	}
	if s.Status().Busy {
		t.Error("busy set with empty library")
	}
}

func TestDisabledIgnoresEvents(t *testing.T) {
	deck := newFakeDeck()
	s := newScheduler(deck, newLibrary("a"), nil, nil, true)
	s.OnMainEnded("a")
	s.OnLivenessTick()
	s.OnMainStopped("a")
	s.Wait()
	if got := deck.plays(mixer.Main); len(got) != 0 {
		t.Errorf("disabled scheduler played %v", got)
	}
}

func TestScriptedStepsThenAlternating(t *testing.T) {
	deck := newFakeDeck()
	voice := &fakeSpeaker{}
	s := newScheduler(deck, newLibrary("a", "b"), nil, voice, true)

	if err := s.OnToggle(true); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	for i := 0; i < 6; i++ {
		deck.end(mixer.Main)
		if err := s.OnLivenessTick(); err != nil {
			t.Fatal(err)
		}
		s.Wait()
	}

	lines := voice.said()
	// four scripted lines, then ad-hoc narrated, silent, narrated
	if len(lines) != 6 {
		t.Fatalf("lines = %d: %q", len(lines), lines)
	}
	markers := []string{"Você está na Rádio Royal", "Seguimos com a programação", "Você sabia?", "Obrigado por ficar", "Na Rádio Royal, agora", "Continua com a gente"}
	for i, m := range markers {
		if !strings.Contains(lines[i], m) {
			t.Errorf("line %d = %q, want it to contain %q", i, lines[i], m)
		}
	}
	if st := s.Status(); st.ProgramStep != ProgramSteps || st.PlayCount != 7 {
		t.Errorf("status = %+v", st)
	}

	// re-enabling restarts the program
	s.OnToggle(false)
	s.OnToggle(true)
	if st := s.Status(); st.ProgramStep != 0 {
		t.Errorf("program step after re-enable = %d", st.ProgramStep)
	}
}

func TestOverlapDucksAroundNarration(t *testing.T) {
	deck := newFakeDeck()
	voice := &fakeSpeaker{deck: deck}
	s := newScheduler(deck, newLibrary("a"), nil, voice, true)
	if err := s.OnToggle(true); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	want := []string{"play main a", "fade main 0.25", "speak", "fade main 0.80"}
	if got := deck.log(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestNarrationBeforePlayback(t *testing.T) {
	deck := newFakeDeck()
	voice := &fakeSpeaker{deck: deck}
	s := newScheduler(deck, newLibrary("a"), nil, voice, false)
	if err := s.OnToggle(true); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	want := []string{"speak", "play main a"}
	if got := deck.log(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestFailuresReleaseBusyAndStillPlay(t *testing.T) {
	t.Run("speak error", func(t *testing.T) {
		deck := newFakeDeck()
		voice := &fakeSpeaker{err: errors.New("tts down")}
		s := newScheduler(deck, newLibrary("a"), nil, voice, false)
		s.OnToggle(true)
		s.Wait()
		if got := deck.plays(mixer.Main); len(got) != 1 {
			t.Errorf("plays = %v", got)
		}
		st := s.Status()
		if st.Busy || st.LastError == "" {
			t.Errorf("status = %+v", st)
		}
	})

	t.Run("speak panic", func(t *testing.T) {
		deck := newFakeDeck()
		s := newScheduler(deck, newLibrary("a"), nil, &fakeSpeaker{panic: true}, false)
		s.OnToggle(true)
		s.Wait()
		if got := deck.plays(mixer.Main); len(got) != 1 || got[0] != "a" {
			t.Errorf("fallback plays = %v", got)
		}
		if s.Status().Busy {
			t.Error("busy stuck after panic")
		}
	})

	t.Run("play error", func(t *testing.T) {
		deck := newFakeDeck()
		deck.playErr[mixer.Main] = errors.New("blocked")
		s := newScheduler(deck, newLibrary("a"), nil, nil, true)
		s.OnToggle(true)
		s.Wait()
		if s.Status().Busy {
			t.Error("busy stuck after playback failure")
		}
		deck.playErr[mixer.Main] = nil
		if err := s.OnLivenessTick(); err != nil {
			t.Fatal(err)
		}
		s.Wait()
		if !deck.IsPlaying(mixer.Main) {
			t.Error("liveness did not recover playback")
		}
	})
}

func TestBedIsBestEffort(t *testing.T) {
	deck := newFakeDeck()
	deck.playErr[mixer.Background] = errors.New("no bed")
	s := newScheduler(deck, newLibrary("a"), newLibrary("bed1", "bed2"), nil, true)
	s.OnToggle(true)
	s.Wait()
	if got := deck.plays(mixer.Background); len(got) != 1 || got[0] != "bed1" {
		t.Errorf("bed plays = %v", got)
	}
	if !deck.IsPlaying(mixer.Main) {
		t.Error("bed failure blocked main")
	}

	deck.playErr[mixer.Background] = nil
	s.OnBedEnded()
	if got := deck.plays(mixer.Background); len(got) != 2 || got[1] != "bed2" {
		t.Errorf("bed plays after ended = %v", got)
	}
}

func TestPreEndNarrationOncePerPlay(t *testing.T) {
	deck := newFakeDeck()
	voice := &fakeSpeaker{}
	s := newScheduler(deck, newLibrary("a", "b"), nil, voice, true)
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()

	s.OnMainProgress("a", 10, 200)
	s.Wait()
	if n := len(voice.said()); n != 0 {
		t.Fatalf("narrated early: %d", n)
	}

	s.OnMainProgress("a", 196, 200)
	s.OnMainProgress("a", 197, 200)
	s.Wait()
	lines := voice.said()
	if len(lines) != 1 || !strings.Contains(lines[0], "Daqui a pouco") || !strings.Contains(lines[0], "B") {
		t.Fatalf("lines = %q", lines)
	}
	if s.Status().PreAnnouncedURL != "a" {
		t.Errorf("marker = %q", s.Status().PreAnnouncedURL)
	}

	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	s.OnMainEnded("a")
	if s.Status().PreAnnouncedURL != "" {
		t.Error("marker not cleared on ended")
	}
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	s.OnMainProgress("a", 198, 200)
	s.Wait()
	if n := len(voice.said()); n != 2 {
		t.Errorf("replayed track not announced again: %d lines", n)
	}
}

// gatedSpeaker holds each line until released; a new line releases the
// previous one, the way a voice one-shot suppresses the one before it.
type gatedSpeaker struct {
	deck    *fakeDeck
	started chan int

	mu      sync.Mutex
	n       int
	release chan struct{}
}

func (g *gatedSpeaker) Speak(ctx context.Context, text string) error {
	g.mu.Lock()
	if g.release != nil {
		close(g.release)
	}
	rel := make(chan struct{})
	g.release = rel
	n := g.n
	g.n++
	g.deck.mu.Lock()
	g.deck.record("speak-start %d", n)
	g.deck.mu.Unlock()
	g.mu.Unlock()

	g.started <- n
	<-rel
	g.deck.mu.Lock()
	g.deck.record("speak-end %d", n)
	g.deck.mu.Unlock()
	return nil
}

func (g *gatedSpeaker) finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.release != nil {
		close(g.release)
		g.release = nil
	}
}

func TestPreEndNarrationCutByTransitionKeepsDuck(t *testing.T) {
	deck := newFakeDeck()
	deck.playing[mixer.Main] = true
	voice := &gatedSpeaker{deck: deck, started: make(chan int, 2)}
	s := newScheduler(deck, newLibrary("a", "b"), nil, voice, true)
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()

	s.OnMainProgress("a", 196, 200)
	<-voice.started

	deck.end(mixer.Main)
	if err := s.OnMainEnded("a"); err != nil {
		t.Fatal(err)
	}
	<-voice.started
	voice.finish()
	s.Wait()

	calls := deck.log()
	restores := 0
	for i, c := range calls {
		if c != "fade main 0.80" {
			continue
		}
		restores++
		if i != len(calls)-1 {
			t.Errorf("main restored before the last narration finished: %v", calls)
		}
	}
	if restores != 1 {
		t.Errorf("restores = %d, want 1: %v", restores, calls)
	}
	if got := deck.plays(mixer.Main); len(got) != 1 || got[0] != "b" {
		t.Errorf("main plays = %v", got)
	}
}

func TestRunLiveness(t *testing.T) {
	deck := newFakeDeck()
	s := New(deck, newLibrary("a"), nil, nil, nil, Options{LivenessInterval: 10 * time.Millisecond})
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !deck.IsPlaying(mixer.Main) {
		if time.Now().After(deadline) {
			t.Fatal("liveness never started playback")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
