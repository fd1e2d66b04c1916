package audio

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/faiface/beep"
	"github.com/google/uuid"

	"RadioRoyal/core/mixer"
	"RadioRoyal/logger"
)

// subscriberDepth is how many blocks a subscriber may lag before drops.
const subscriberDepth = 64

// captureStream fans encoded PCM blocks out to its subscribers.
type captureStream struct {
	id     string
	format beep.Format

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newCaptureStream(format beep.Format) *captureStream {
	return &captureStream{
		id:     uuid.New().String(),
		format: format,
		subs:   make(map[*subscriber]struct{}),
	}
}

func (s *captureStream) ID() string { return s.id }

func (s *captureStream) Format() mixer.StreamFormat {
	return mixer.StreamFormat{
		SampleRate: int(s.format.SampleRate),
		Channels:   s.format.NumChannels,
		BitDepth:   s.format.Precision * 8,
	}
}

// Subscribe returns a reader of s16le PCM starting at the next block.
func (s *captureStream) Subscribe() io.ReadCloser {
	sub := &subscriber{
		stream: s,
		ch:     make(chan []byte, subscriberDepth),
		closed: make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *captureStream) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// deliver never blocks; a full subscriber loses the block.
func (s *captureStream) deliver(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.offer(p)
	}
}

func (s *captureStream) remove(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

func (s *captureStream) closeAll() {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

type subscriber struct {
	stream  *captureStream
	ch      chan []byte
	pending []byte
	closed  chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func (s *subscriber) offer(p []byte) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.ch <- p:
	default:
		if s.dropped.Add(1) == 1 {
			logger.Warn("capture subscriber is lagging, dropping blocks", logger.String("stream", s.stream.id))
		}
	}
}

func (s *subscriber) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case b := <-s.ch:
			s.pending = b
		case <-s.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *subscriber) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.stream.remove(s)
	})
	return nil
}

// encodePCM converts samples to interleaved signed little-endian PCM.
func encodePCM(format beep.Format, samples [][2]float64) []byte {
	width := format.Width()
	out := make([]byte, len(samples)*width)
	for i, s := range samples {
		format.EncodeSigned(out[i*width:], s)
	}
	return out
}

// decodePCM is the inverse of encodePCM; it returns the frames consumed.
func decodePCM(format beep.Format, p []byte, dst [][2]float64) int {
	width := format.Width()
	n := len(p) / width
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i], _ = format.DecodeSigned(p[i*width:])
	}
	return n
}
