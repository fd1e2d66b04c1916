package mixer

import (
	"context"
	"io"
)

// RuntimeState mirrors the lifecycle of an audio rendering context.
type RuntimeState string

const (
	RuntimeSuspended RuntimeState = "suspended"
	RuntimeRunning   RuntimeState = "running"
	RuntimeClosed    RuntimeState = "closed"
)

// Runtime is the audio rendering engine the graph is built on.
type Runtime interface {
	State() RuntimeState
	Resume(ctx context.Context) error
	Close() error

	// Destination is the local monitoring output.
	Destination() Node
	NewGain(value float64) (GainNode, error)
	NewAnalyser() (AnalyserNode, error)
	NewCaptureDestination() (CaptureNode, error)
	NewMediaElement() (MediaElement, error)
	// NewElementSource may be called at most once per element.
	NewElementSource(el MediaElement) (Node, error)
	OpenCaptureDevice(ctx context.Context) (CaptureDevice, error)
	NewDeviceSource(dev CaptureDevice) (Node, error)
}

// Node is a vertex of the routing graph.
type Node interface {
	Connect(dst Node) error
	// Disconnect removes every outgoing edge.
	Disconnect() error
}

// GainNode scales its input.
type GainNode interface {
	Node
	SetGain(v float64)
	Gain() float64
}

// AnalyserNode passes audio through and exposes its level in [0,1].
type AnalyserNode interface {
	Node
	Level() float64
}

// CaptureNode is a sink whose mix is readable as a stream.
type CaptureNode interface {
	Node
	Stream() MediaStream
}

// StreamFormat describes raw PCM delivered by a MediaStream.
type StreamFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// MediaStream is the capturable output of the master bus.
type MediaStream interface {
	ID() string
	Format() StreamFormat
	// Subscribe returns a reader of interleaved little-endian PCM.
	Subscribe() io.ReadCloser
}

// CaptureDevice is an open input device such as a microphone.
type CaptureDevice interface {
	Label() string
	Stop() error
}

// ElementListener receives media element events. Callbacks run on runtime
// goroutines and must not block.
type ElementListener struct {
	OnEnded      func(src string)
	OnTimeUpdate func(src string, current, duration float64)
	OnError      func(src string, err error)
}

// MediaElement plays one source URL at a time.
type MediaElement interface {
	Src() string
	SetSrc(url string)
	// Load starts buffering the current source without playing.
	Load(ctx context.Context) error
	Play(ctx context.Context) error
	Pause()
	Paused() bool
	CurrentTime() float64
	SetCurrentTime(seconds float64) error
	Duration() float64
	SetListener(l ElementListener)
}

// RuntimeFactory creates the runtime on first use.
type RuntimeFactory func() (Runtime, error)
