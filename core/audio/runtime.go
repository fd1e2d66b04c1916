package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"

	"RadioRoyal/core/mixer"
	"RadioRoyal/logger"
)

// ErrRuntimeClosed the runtime was closed
var ErrRuntimeClosed = errors.New("audio runtime closed")

// Options configures a Runtime.
type Options struct {
	SampleRate int
	// BlockSize is the render quantum of the pump.
	BlockSize  time.Duration
	FFmpegPath string
	// MicFormat/MicDevice are passed to ffmpeg as -f/-i; no device means no microphone.
	MicFormat string
	MicDevice string
	// Monitor receives the local mix as s16le PCM when set.
	Monitor    io.Writer
	HTTPClient *http.Client
	TempDir    string
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = 48000
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 20 * time.Millisecond
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if o.TempDir == "" {
		o.TempDir = os.TempDir()
	}
	if o.MicFormat == "" {
		o.MicFormat = "pulse"
	}
	return o
}

// Runtime is a pure-Go audio engine: a pump goroutine pulls the graph once
// per block and hands the master mix to capture subscribers and the monitor.
type Runtime struct {
	opts   Options
	format beep.Format
	ffmpeg *FFmpegProcessor

	mu       sync.Mutex
	state    mixer.RuntimeState
	tick     uint64
	dest     *node
	captures []*captureNode
	elements []*element
	devices  []*ffmpegDevice
	stop     chan struct{}
	done     chan struct{}

	notify  chan func()
	closed  chan struct{}
	monitor chan []byte
}

var _ mixer.Runtime = (*Runtime)(nil)

// NewRuntime creates a suspended runtime.
func NewRuntime(opts Options) *Runtime {
	opts = opts.withDefaults()
	r := &Runtime{
		opts: opts,
		format: beep.Format{
			SampleRate:  beep.SampleRate(opts.SampleRate),
			NumChannels: 2,
			Precision:   2,
		},
		ffmpeg: NewFFmpegProcessor(opts.FFmpegPath),
		state:  mixer.RuntimeSuspended,
		notify: make(chan func(), 256),
		closed: make(chan struct{}),
	}
	r.dest = r.newNode("destination")
	go r.dispatchLoop()
	if opts.Monitor != nil {
		r.monitor = make(chan []byte, 16)
		go r.monitorLoop(opts.Monitor)
	}
	return r
}

// Factory adapts NewRuntime to mixer.RuntimeFactory.
func Factory(opts Options) mixer.RuntimeFactory {
	return func() (mixer.Runtime, error) {
		return NewRuntime(opts), nil
	}
}

// Format returns the PCM format of the runtime.
func (r *Runtime) Format() beep.Format { return r.format }

func (r *Runtime) newNode(name string) *node {
	return &node{rt: r, name: name}
}

func (r *Runtime) State() mixer.RuntimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Resume starts the pump.
func (r *Runtime) Resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case mixer.RuntimeClosed:
		return ErrRuntimeClosed
	case mixer.RuntimeRunning:
		return nil
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.state = mixer.RuntimeRunning
	go r.pump(r.stop, r.done)
	logger.Info("audio runtime running", logger.Int("sampleRate", int(r.format.SampleRate)), logger.Duration("block", r.opts.BlockSize))
	return nil
}

// Close stops the pump and releases every element, device and subscriber.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.state == mixer.RuntimeClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = mixer.RuntimeClosed
	stop, done := r.stop, r.done
	elements, devices, captures := r.elements, r.devices, r.captures
	r.elements, r.devices = nil, nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	for _, el := range elements {
		el.release()
	}
	for _, d := range devices {
		d.Stop()
	}
	for _, c := range captures {
		c.stream.closeAll()
	}
	close(r.closed)
	return nil
}

func (r *Runtime) Destination() mixer.Node { return r.dest }

func (r *Runtime) NewGain(value float64) (mixer.GainNode, error) {
	g := &gainNode{node: r.newNode("gain")}
	g.value.Store(value)
	g.process = g.apply
	return g, nil
}

func (r *Runtime) NewAnalyser() (mixer.AnalyserNode, error) {
	a := &analyserNode{node: r.newNode("analyser")}
	a.process = a.measure
	return a, nil
}

func (r *Runtime) NewCaptureDestination() (mixer.CaptureNode, error) {
	c := &captureNode{node: r.newNode("capture"), stream: newCaptureStream(r.format)}
	r.mu.Lock()
	r.captures = append(r.captures, c)
	r.mu.Unlock()
	return c, nil
}

func (r *Runtime) NewMediaElement() (mixer.MediaElement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == mixer.RuntimeClosed {
		return nil, ErrRuntimeClosed
	}
	el := newElement(r)
	r.elements = append(r.elements, el)
	return el, nil
}

func (r *Runtime) NewElementSource(el mixer.MediaElement) (mixer.Node, error) {
	e, ok := el.(*element)
	if !ok || e.rt != r {
		return nil, ErrForeignNode
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sourced {
		return nil, fmt.Errorf("element already has a source node")
	}
	e.sourced = true
	n := r.newNode("element")
	n.produce = e.produce
	return n, nil
}

func (r *Runtime) NewDeviceSource(dev mixer.CaptureDevice) (mixer.Node, error) {
	d, ok := dev.(*ffmpegDevice)
	if !ok {
		return nil, ErrForeignNode
	}
	n := r.newNode("device")
	n.produce = d.read
	return n, nil
}

func (r *Runtime) pump(stop, done chan struct{}) {
	defer close(done)
	frames := r.format.SampleRate.N(r.opts.BlockSize)
	ticker := time.NewTicker(r.opts.BlockSize)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.renderBlock(frames)
		}
	}
}

// renderBlock pulls every sink once. Nodes shared by several sinks are
// rendered once per tick.
func (r *Runtime) renderBlock(frames int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++
	for _, c := range r.captures {
		buf := c.pull(r.tick, frames)
		if c.stream.subscribers() > 0 {
			c.stream.deliver(encodePCM(r.format, buf))
		}
	}
	buf := r.dest.pull(r.tick, frames)
	if r.monitor != nil {
		select {
		case r.monitor <- encodePCM(r.format, buf):
		default:
		}
	}
}

// dispatch queues an element callback to run outside the runtime lock.
func (r *Runtime) dispatch(fn func()) {
	select {
	case r.notify <- fn:
	case <-r.closed:
	default:
		logger.Warn("audio runtime callback queue full, dropping event")
	}
}

func (r *Runtime) dispatchLoop() {
	for {
		select {
		case fn := <-r.notify:
			fn()
		case <-r.closed:
			return
		}
	}
}

func (r *Runtime) monitorLoop(w io.Writer) {
	for {
		select {
		case p := <-r.monitor:
			if _, err := w.Write(p); err != nil {
				logger.Warn("monitor output failed, disabling", logger.ErrorField(err))
				return
			}
		case <-r.closed:
			return
		}
	}
}
