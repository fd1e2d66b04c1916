package mixer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

type fakeNode struct {
	rt    *fakeRuntime
	name  string
	mu    sync.Mutex
	gain  float64
	level float64
}

func (n *fakeNode) Connect(dst Node) error {
	d, ok := dst.(*fakeNode)
	if !ok {
		return errors.New("foreign node")
	}
	n.rt.mu.Lock()
	n.rt.edges[n.name+"->"+d.name]++
	n.rt.mu.Unlock()
	return nil
}

func (n *fakeNode) Disconnect() error {
	n.rt.mu.Lock()
	defer n.rt.mu.Unlock()
	for k := range n.rt.edges {
		if strings.HasPrefix(k, n.name+"->") {
			delete(n.rt.edges, k)
		}
	}
	return nil
}

func (n *fakeNode) SetGain(v float64) {
	n.mu.Lock()
	n.gain = v
	n.mu.Unlock()
}

func (n *fakeNode) Gain() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gain
}

func (n *fakeNode) Level() float64 { return n.level }

func (n *fakeNode) Stream() MediaStream { return fakeStream{id: n.name} }

type fakeStream struct{ id string }

func (s fakeStream) ID() string           { return s.id }
func (s fakeStream) Format() StreamFormat { return StreamFormat{SampleRate: 48000, Channels: 2, BitDepth: 16} }
func (s fakeStream) Subscribe() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}

type fakeElement struct {
	mu       sync.Mutex
	src      string
	paused   bool
	current  float64
	duration float64
	playErr  error
	plays    int
	listener ElementListener

	// endOnPlay ends the source as soon as it starts, like a clip shorter
	// than one runtime block.
	endOnPlay bool
}

func (e *fakeElement) Src() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

func (e *fakeElement) SetSrc(url string) {
	e.mu.Lock()
	e.src = url
	e.mu.Unlock()
}

func (e *fakeElement) Load(ctx context.Context) error { return nil }

func (e *fakeElement) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.playErr != nil {
		e.mu.Unlock()
		return e.playErr
	}
	e.paused = false
	e.plays++
	instant := e.endOnPlay
	e.mu.Unlock()
	if instant {
		e.end()
	}
	return nil
}

func (e *fakeElement) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *fakeElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *fakeElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *fakeElement) SetCurrentTime(s float64) error {
	e.mu.Lock()
	e.current = s
	e.mu.Unlock()
	return nil
}

func (e *fakeElement) Duration() float64 { return e.duration }

func (e *fakeElement) SetListener(l ElementListener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// end fires the ended callback the way the runtime does.
func (e *fakeElement) end() {
	e.mu.Lock()
	l, src := e.listener, e.src
	e.paused = true
	e.mu.Unlock()
	if l.OnEnded != nil {
		l.OnEnded(src)
	}
}

type fakeDevice struct {
	stopped bool
}

func (d *fakeDevice) Label() string { return "fake-mic" }
func (d *fakeDevice) Stop() error {
	d.stopped = true
	return nil
}

type fakeRuntime struct {
	mu             sync.Mutex
	state          RuntimeState
	nodes          int
	edges          map[string]int
	elements       []*fakeElement
	elementSources map[*fakeElement]int
	device         *fakeDevice
	deviceErr      error
	sourceErr      error
	playErr        error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		state:          RuntimeSuspended,
		edges:          make(map[string]int),
		elementSources: make(map[*fakeElement]int),
	}
}

func (r *fakeRuntime) node(kind string) *fakeNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes++
	return &fakeNode{rt: r, name: fmt.Sprintf("%s%d", kind, r.nodes)}
}

func (r *fakeRuntime) State() RuntimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeRuntime) Resume(ctx context.Context) error {
	r.mu.Lock()
	r.state = RuntimeRunning
	r.mu.Unlock()
	return nil
}

func (r *fakeRuntime) Close() error {
	r.mu.Lock()
	r.state = RuntimeClosed
	r.mu.Unlock()
	return nil
}

func (r *fakeRuntime) Destination() Node { return &fakeNode{rt: r, name: "destination"} }

func (r *fakeRuntime) NewGain(v float64) (GainNode, error) {
	n := r.node("gain")
	n.gain = v
	return n, nil
}

func (r *fakeRuntime) NewAnalyser() (AnalyserNode, error) { return r.node("analyser"), nil }

func (r *fakeRuntime) NewCaptureDestination() (CaptureNode, error) {
	return &fakeNode{rt: r, name: "bus"}, nil
}

func (r *fakeRuntime) NewMediaElement() (MediaElement, error) {
	el := &fakeElement{paused: true, duration: 180, playErr: r.playErr}
	r.mu.Lock()
	r.elements = append(r.elements, el)
	r.mu.Unlock()
	return el, nil
}

func (r *fakeRuntime) NewElementSource(el MediaElement) (Node, error) {
	fe := el.(*fakeElement)
	r.mu.Lock()
	r.elementSources[fe]++
	r.mu.Unlock()
	return r.node("source"), nil
}

func (r *fakeRuntime) OpenCaptureDevice(ctx context.Context) (CaptureDevice, error) {
	if r.deviceErr != nil {
		return nil, r.deviceErr
	}
	r.device = &fakeDevice{}
	return r.device, nil
}

func (r *fakeRuntime) NewDeviceSource(dev CaptureDevice) (Node, error) {
	if r.sourceErr != nil {
		return nil, r.sourceErr
	}
	return r.node("mic"), nil
}

func (r *fakeRuntime) edgeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.edges {
		n += c
	}
	return n
}

func (r *fakeRuntime) edgesFrom(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, c := range r.edges {
		if strings.HasPrefix(k, prefix) {
			n += c
		}
	}
	return n
}
