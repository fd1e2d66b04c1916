package mixer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"RadioRoyal/logger"
)

// EventType 通道事件类型
type EventType string

const (
	EventPlaying  EventType = "playing"
	EventProgress EventType = "progress"
	EventEnded    EventType = "ended"
	EventStopped  EventType = "stopped"
)

// Event is emitted on channel transport changes.
type Event struct {
	Type     EventType
	Channel  Channel
	URL      string
	Elapsed  float64
	Duration float64
	// Requested is true when a Stop call caused EventStopped.
	Requested bool
	Err       error
}

type chain struct {
	gain     GainNode
	analyser AnalyserNode
}

// Graph is the studio mixing graph: one gain and one analyser per channel,
// all merged into a capture bus that is also routed to local monitoring.
type Graph struct {
	factory  RuntimeFactory
	registry *Registry
	events   chan Event

	mu          sync.Mutex
	rt          Runtime
	bus         CaptureNode
	chains      map[Channel]*chain
	states      map[Channel]*ChannelState
	micActive   bool
	oneShotDone chan struct{}
}

// NewGraph creates a graph; the runtime is built lazily by EnsureRuntime.
func NewGraph(factory RuntimeFactory) *Graph {
	g := &Graph{
		factory:  factory,
		registry: NewRegistry(),
		events:   make(chan Event, 256),
		chains:   make(map[Channel]*chain),
		states:   make(map[Channel]*ChannelState),
	}
	for _, ch := range Channels {
		g.states[ch] = &ChannelState{Channel: ch, Gain: DefaultGains[ch], Transport: Stopped}
	}
	return g
}

// Events delivers channel events. Events are dropped when nobody reads.
func (g *Graph) Events() <-chan Event { return g.events }

// Registry exposes the channel bindings.
func (g *Graph) Registry() *Registry { return g.registry }

func (g *Graph) emit(ev Event) {
	select {
	case g.events <- ev:
	default:
		logger.Warn("mixer event dropped", logger.String("type", string(ev.Type)), logger.String("channel", string(ev.Channel)))
	}
}

// EnsureRuntime returns the runtime, creating and wiring it on first use
// and resuming it when suspended. Repeated calls never rebuild the graph.
func (g *Graph) EnsureRuntime(ctx context.Context) (Runtime, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rt, err := g.ensureLocked()
	if err != nil {
		return nil, err
	}
	if rt.State() == RuntimeSuspended {
		if err := rt.Resume(ctx); err != nil {
			return nil, fmt.Errorf("resume audio runtime: %w", err)
		}
	}
	return rt, nil
}

func (g *Graph) ensureLocked() (Runtime, error) {
	if g.rt != nil && g.rt.State() != RuntimeClosed {
		return g.rt, nil
	}
	if g.factory == nil {
		return nil, ErrUnsupportedPlatform
	}
	rt, err := g.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}
	if rt == nil {
		return nil, ErrUnsupportedPlatform
	}

	bus, err := rt.NewCaptureDestination()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create master bus: %w", err)
	}
	chains := make(map[Channel]*chain, len(Channels))
	for _, ch := range Channels {
		c, err := g.buildChain(rt, bus, g.states[ch].Gain)
		if err != nil {
			rt.Close()
			return nil, chErr("build", ch, err)
		}
		chains[ch] = c
	}

	g.registry.Reset()
	g.rt, g.bus, g.chains = rt, bus, chains
	g.micActive = false
	logger.Info("mixer graph built", logger.Int("channels", len(chains)))
	return rt, nil
}

func (g *Graph) buildChain(rt Runtime, bus CaptureNode, gainValue float64) (*chain, error) {
	gain, err := rt.NewGain(gainValue)
	if err != nil {
		return nil, err
	}
	an, err := rt.NewAnalyser()
	if err != nil {
		return nil, err
	}
	if err := gain.Connect(an); err != nil {
		return nil, err
	}
	if err := an.Connect(bus); err != nil {
		return nil, err
	}
	if err := an.Connect(rt.Destination()); err != nil {
		return nil, err
	}
	return &chain{gain: gain, analyser: an}, nil
}

// elementLocked returns the channel's element, binding one the first time.
func (g *Graph) elementLocked(ch Channel) (MediaElement, error) {
	if ch == Microphone {
		return nil, fmt.Errorf("%w: microphone is fed by a capture device", ErrUnknownChannel)
	}
	if !ch.Valid() {
		return nil, ErrUnknownChannel
	}
	if g.rt == nil {
		return nil, ErrUnsupportedPlatform
	}
	if b, ok := g.registry.Lookup(ch); ok && b.Element != nil {
		return b.Element, nil
	}
	el, err := g.rt.NewMediaElement()
	if err != nil {
		return nil, err
	}
	src, err := g.rt.NewElementSource(el)
	if err != nil {
		return nil, err
	}
	if err := src.Connect(g.chains[ch].gain); err != nil {
		return nil, err
	}
	el.SetListener(ElementListener{
		OnEnded:      func(src string) { g.handleEnded(ch, src) },
		OnTimeUpdate: func(src string, cur, dur float64) { g.handleProgress(ch, src, cur, dur) },
		OnError:      func(src string, err error) { g.handleError(ch, src, err) },
	})
	if err := g.registry.Bind(&Binding{Channel: ch, Element: el, Source: src, Connected: true}); err != nil {
		return nil, err
	}
	return el, nil
}

// AttachChannelSource points the channel at url and starts buffering it
// without playing. The channel's source node is created only once.
func (g *Graph) AttachChannelSource(ctx context.Context, ch Channel, url string) error {
	if _, err := g.EnsureRuntime(ctx); err != nil {
		return chErr("attach", ch, err)
	}
	g.mu.Lock()
	el, err := g.elementLocked(ch)
	if err != nil {
		g.mu.Unlock()
		return chErr("attach", ch, err)
	}
	el.SetSrc(url)
	st := g.states[ch]
	st.URL = url
	st.Transport = Loading
	st.Elapsed, st.Duration = 0, 0
	g.mu.Unlock()

	if err := el.Load(ctx); err != nil {
		g.setTransport(ch, url, Stopped)
		return chErr("attach", ch, err)
	}
	g.mu.Lock()
	if st.URL == url && st.Transport == Loading {
		st.Transport = Stopped
		st.Duration = el.Duration()
	}
	g.mu.Unlock()
	return nil
}

// Play starts url (or the attached source when url is empty) from the beginning.
func (g *Graph) Play(ctx context.Context, ch Channel, url string) error {
	if _, err := g.EnsureRuntime(ctx); err != nil {
		return chErr("play", ch, err)
	}
	g.mu.Lock()
	el, err := g.elementLocked(ch)
	if err != nil {
		g.mu.Unlock()
		return chErr("play", ch, err)
	}
	if url != "" && url != el.Src() {
		el.SetSrc(url)
	}
	url = el.Src()
	if url == "" {
		g.mu.Unlock()
		return chErr("play", ch, ErrNoSource)
	}
	st := g.states[ch]
	st.URL = url
	st.Transport = Loading
	st.Elapsed = 0
	g.mu.Unlock()

	el.SetCurrentTime(0)
	if err := el.Play(ctx); err != nil {
		g.setTransport(ch, url, Stopped)
		return chErr("play", ch, fmt.Errorf("%w: %v", ErrPlaybackBlocked, err))
	}

	// a short or broken source may already have ended or failed
	g.mu.Lock()
	if st.URL != url || st.Transport != Loading {
		g.mu.Unlock()
		return nil
	}
	st.Transport = Playing
	st.Duration = el.Duration()
	dur := st.Duration
	g.mu.Unlock()
	g.emit(Event{Type: EventPlaying, Channel: ch, URL: url, Duration: dur})
	return nil
}

func (g *Graph) setTransport(ch Channel, url string, t Transport) {
	g.mu.Lock()
	if st := g.states[ch]; st.URL == url {
		st.Transport = t
	}
	g.mu.Unlock()
}

// Stop pauses the channel and rewinds it.
func (g *Graph) Stop(ch Channel) error {
	g.mu.Lock()
	b, ok := g.registry.Lookup(ch)
	if !ok || b.Element == nil {
		g.mu.Unlock()
		return nil
	}
	b.Element.Pause()
	b.Element.SetCurrentTime(0)
	st := g.states[ch]
	wasActive := st.Transport == Playing || st.Transport == Loading
	st.Transport = Stopped
	st.Elapsed = 0
	url := st.URL
	if ch == Voice {
		g.releaseOneShotLocked()
	}
	g.mu.Unlock()

	if wasActive {
		g.emit(Event{Type: EventStopped, Channel: ch, URL: url, Requested: true})
	}
	return nil
}

// Toggle pauses a playing channel or resumes it from its position.
func (g *Graph) Toggle(ctx context.Context, ch Channel) error {
	g.mu.Lock()
	b, ok := g.registry.Lookup(ch)
	if !ok || b.Element == nil || b.Element.Src() == "" {
		g.mu.Unlock()
		return chErr("toggle", ch, ErrNoSource)
	}
	st := g.states[ch]
	if st.Transport == Playing {
		b.Element.Pause()
		st.Transport = Paused
		g.mu.Unlock()
		return nil
	}
	el := b.Element
	url, before := st.URL, st.Transport
	st.Transport = Loading
	g.mu.Unlock()

	if _, err := g.EnsureRuntime(ctx); err != nil {
		g.setTransport(ch, url, before)
		return chErr("toggle", ch, err)
	}
	if err := el.Play(ctx); err != nil {
		g.setTransport(ch, url, before)
		return chErr("toggle", ch, fmt.Errorf("%w: %v", ErrPlaybackBlocked, err))
	}
	g.mu.Lock()
	if st.URL != url || st.Transport != Loading {
		g.mu.Unlock()
		return nil
	}
	st.Transport = Playing
	g.mu.Unlock()
	g.emit(Event{Type: EventPlaying, Channel: ch, URL: el.Src(), Elapsed: el.CurrentTime(), Duration: el.Duration()})
	return nil
}

// Seek moves the channel's playback position.
func (g *Graph) Seek(ch Channel, seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.registry.Lookup(ch)
	if !ok || b.Element == nil {
		return chErr("seek", ch, ErrNoSource)
	}
	if err := b.Element.SetCurrentTime(seconds); err != nil {
		return chErr("seek", ch, err)
	}
	g.states[ch].Elapsed = seconds
	return nil
}

// SetChannelGain sets the channel's assigned gain; it applies immediately.
func (g *Graph) SetChannelGain(ch Channel, v float64) error {
	if !ch.Valid() {
		return chErr("gain", ch, ErrUnknownChannel)
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return chErr("gain", ch, ErrInvalidGain)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[ch].Gain = v
	if c := g.chains[ch]; c != nil {
		c.gain.SetGain(v)
	}
	return nil
}

// Gain returns the channel's assigned gain.
func (g *Graph) Gain(ch Channel) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[ch]; ok {
		return st.Gain
	}
	return 0
}

// FadeChannelGain ramps the live gain to target over d without changing
// the assigned gain. Cancelling ctx jumps straight to target.
func (g *Graph) FadeChannelGain(ctx context.Context, ch Channel, target float64, d time.Duration) error {
	if math.IsNaN(target) || target < 0 || target > 1 {
		return chErr("fade", ch, ErrInvalidGain)
	}
	g.mu.Lock()
	c := g.chains[ch]
	g.mu.Unlock()
	if c == nil {
		return nil
	}

	const steps = 20
	from := c.gain.Gain()
	if d <= 0 || from == target {
		c.gain.SetGain(target)
		return nil
	}
	ticker := time.NewTicker(d / steps)
	defer ticker.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			c.gain.SetGain(target)
			return ctx.Err()
		case <-ticker.C:
			c.gain.SetGain(from + (target-from)*float64(i)/steps)
		}
	}
	return nil
}

// Level returns the channel's current analysis level.
func (g *Graph) Level(ch Channel) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c := g.chains[ch]; c != nil {
		return c.analyser.Level()
	}
	return 0
}

// IsPlaying reports whether the channel is playing.
func (g *Graph) IsPlaying(ch Channel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[ch]
	return ok && st.Transport == Playing
}

// WaitPlaying blocks until ch is playing or timeout elapses.
func (g *Graph) WaitPlaying(ctx context.Context, ch Channel, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if g.IsPlaying(ch) {
			return nil
		}
		select {
		case <-ctx.Done():
			return chErr("wait", ch, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Snapshot returns the state of every channel.
func (g *Graph) Snapshot() []ChannelState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ChannelState, 0, len(Channels))
	for _, ch := range Channels {
		st := *g.states[ch]
		if c := g.chains[ch]; c != nil {
			st.Level = c.analyser.Level()
		}
		if b, ok := g.registry.Lookup(ch); ok && b.Element != nil {
			st.Elapsed = b.Element.CurrentTime()
		}
		out = append(out, st)
	}
	return out
}

// ConnectMicrophone opens the capture device and routes it to the
// microphone channel. On failure nothing stays connected.
func (g *Graph) ConnectMicrophone(ctx context.Context) error {
	if _, err := g.EnsureRuntime(ctx); err != nil {
		return chErr("connect", Microphone, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.micActive {
		return nil
	}
	if g.rt == nil {
		return chErr("connect", Microphone, ErrUnsupportedPlatform)
	}

	dev, err := g.rt.OpenCaptureDevice(ctx)
	if err != nil {
		return chErr("connect", Microphone, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
	}
	src, err := g.rt.NewDeviceSource(dev)
	if err != nil {
		dev.Stop()
		return chErr("connect", Microphone, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
	}
	if err := src.Connect(g.chains[Microphone].gain); err != nil {
		src.Disconnect()
		dev.Stop()
		return chErr("connect", Microphone, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
	}
	if err := g.registry.Bind(&Binding{Channel: Microphone, Source: src, Device: dev, Connected: true}); err != nil {
		src.Disconnect()
		dev.Stop()
		return chErr("connect", Microphone, err)
	}

	g.micActive = true
	st := g.states[Microphone]
	st.Transport = Playing
	st.URL = dev.Label()
	logger.Info("microphone connected", logger.String("device", dev.Label()))
	return nil
}

// DisconnectMicrophone releases the capture device.
func (g *Graph) DisconnectMicrophone() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.registry.Unbind(Microphone)
	if !ok {
		return nil
	}
	var firstErr error
	if err := b.Source.Disconnect(); err != nil {
		firstErr = err
	}
	if err := b.Device.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	g.micActive = false
	st := g.states[Microphone]
	st.Transport = Stopped
	st.URL = ""
	return chErr("disconnect", Microphone, firstErr)
}

// MicrophoneActive reports whether a capture device is connected.
func (g *Graph) MicrophoneActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.micActive
}

// CaptureMasterStream returns the master bus stream; it is the same
// stream for the life of the runtime.
func (g *Graph) CaptureMasterStream(ctx context.Context) (MediaStream, error) {
	if _, err := g.EnsureRuntime(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bus == nil {
		return nil, ErrUnsupportedPlatform
	}
	return g.bus.Stream(), nil
}

// PlayOneShot plays url on the voice channel at gain and returns when it
// finishes. A newer one-shot suppresses this one, which then returns nil.
func (g *Graph) PlayOneShot(ctx context.Context, url string, gain float64) error {
	if err := g.SetChannelGain(Voice, gain); err != nil {
		return err
	}
	if _, err := g.EnsureRuntime(ctx); err != nil {
		return chErr("oneshot", Voice, err)
	}

	g.mu.Lock()
	g.releaseOneShotLocked()
	if b, ok := g.registry.Lookup(Voice); ok && b.Element != nil && !b.Element.Paused() {
		b.Element.Pause()
	}
	done := make(chan struct{})
	g.oneShotDone = done
	g.mu.Unlock()

	if err := g.Play(ctx, Voice, url); err != nil {
		g.mu.Lock()
		if g.oneShotDone == done {
			g.releaseOneShotLocked()
		}
		g.mu.Unlock()
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		current := g.oneShotDone == done
		g.mu.Unlock()
		if current {
			g.Stop(Voice)
		}
		return ctx.Err()
	}
}

func (g *Graph) releaseOneShotLocked() {
	if g.oneShotDone != nil {
		close(g.oneShotDone)
		g.oneShotDone = nil
	}
}

func (g *Graph) handleEnded(ch Channel, src string) {
	g.mu.Lock()
	st := g.states[ch]
	if st.URL != src {
		g.mu.Unlock()
		return
	}
	st.Transport = Stopped
	st.Elapsed = st.Duration
	if ch == Voice {
		g.releaseOneShotLocked()
	}
	dur := st.Duration
	g.mu.Unlock()
	g.emit(Event{Type: EventEnded, Channel: ch, URL: src, Elapsed: dur, Duration: dur})
}

func (g *Graph) handleProgress(ch Channel, src string, cur, dur float64) {
	g.mu.Lock()
	st := g.states[ch]
	if st.URL != src {
		g.mu.Unlock()
		return
	}
	st.Elapsed = cur
	if dur > 0 {
		st.Duration = dur
	}
	playing := st.Transport == Playing
	g.mu.Unlock()
	if playing {
		g.emit(Event{Type: EventProgress, Channel: ch, URL: src, Elapsed: cur, Duration: dur})
	}
}

func (g *Graph) handleError(ch Channel, src string, err error) {
	g.mu.Lock()
	st := g.states[ch]
	if st.URL != src {
		g.mu.Unlock()
		return
	}
	st.Transport = Stopped
	if ch == Voice {
		g.releaseOneShotLocked()
	}
	g.mu.Unlock()
	logger.Warn("channel source failed", logger.String("channel", string(ch)), logger.String("url", src), logger.ErrorField(err))
	g.emit(Event{Type: EventStopped, Channel: ch, URL: src, Err: err})
}

// Close tears the graph down; a later EnsureRuntime builds a fresh one.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ch := range Channels {
		b, ok := g.registry.Unbind(ch)
		if !ok {
			continue
		}
		if b.Element != nil {
			b.Element.Pause()
		}
		if b.Source != nil {
			b.Source.Disconnect()
		}
		if b.Device != nil {
			b.Device.Stop()
		}
	}
	g.releaseOneShotLocked()
	g.micActive = false
	for _, st := range g.states {
		st.Transport = Stopped
	}
	if g.rt == nil {
		return nil
	}
	err := g.rt.Close()
	g.rt, g.bus = nil, nil
	g.chains = make(map[Channel]*chain)
	return err
}
