package audio

import (
	"errors"
	"math"
	"sync/atomic"

	"RadioRoyal/core/mixer"
)

// ErrForeignNode the node belongs to a different runtime
var ErrForeignNode = errors.New("node belongs to another runtime")

type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

type baseNoder interface {
	base() *node
}

// node is one vertex of the pull graph. Edges and buffers are guarded by
// the runtime lock; every block each node renders at most once.
type node struct {
	rt      *Runtime
	name    string
	inputs  []*node
	outputs []*node

	tick uint64
	buf  [][2]float64

	produce func(buf [][2]float64)
	process func(buf [][2]float64)
}

func (n *node) base() *node { return n }

func (n *node) Connect(dst mixer.Node) error {
	d, ok := dst.(baseNoder)
	if !ok || d.base().rt != n.rt {
		return ErrForeignNode
	}
	target := d.base()

	n.rt.mu.Lock()
	defer n.rt.mu.Unlock()
	for _, o := range n.outputs {
		if o == target {
			return nil
		}
	}
	n.outputs = append(n.outputs, target)
	target.inputs = append(target.inputs, n)
	return nil
}

func (n *node) Disconnect() error {
	n.rt.mu.Lock()
	defer n.rt.mu.Unlock()
	for _, o := range n.outputs {
		o.inputs = removeNode(o.inputs, n)
	}
	n.outputs = nil
	return nil
}

func removeNode(list []*node, target *node) []*node {
	out := list[:0]
	for _, x := range list {
		if x != target {
			out = append(out, x)
		}
	}
	return out
}

// pull renders the node for tick, summing its inputs.
func (n *node) pull(tick uint64, frames int) [][2]float64 {
	if n.tick == tick && len(n.buf) == frames {
		return n.buf
	}
	n.tick = tick
	if cap(n.buf) < frames {
		n.buf = make([][2]float64, frames)
	}
	n.buf = n.buf[:frames]
	for i := range n.buf {
		n.buf[i] = [2]float64{}
	}

	if n.produce != nil {
		n.produce(n.buf)
	}
	for _, in := range n.inputs {
		mixInto(n.buf, in.pull(tick, frames))
	}
	if n.process != nil {
		n.process(n.buf)
	}
	return n.buf
}

func mixInto(dst, src [][2]float64) {
	for i := range dst {
		if i >= len(src) {
			return
		}
		dst[i][0] += src[i][0]
		dst[i][1] += src[i][1]
	}
}

type gainNode struct {
	*node
	value atomicFloat
}

func (g *gainNode) SetGain(v float64) { g.value.Store(v) }
func (g *gainNode) Gain() float64     { return g.value.Load() }

func (g *gainNode) apply(buf [][2]float64) {
	v := g.value.Load()
	if v == 1 {
		return
	}
	for i := range buf {
		buf[i][0] *= v
		buf[i][1] *= v
	}
}

type analyserNode struct {
	*node
	level atomicFloat
}

func (a *analyserNode) Level() float64 { return a.level.Load() }

// measure stores the block RMS, clamped to [0,1].
func (a *analyserNode) measure(buf [][2]float64) {
	if len(buf) == 0 {
		a.level.Store(0)
		return
	}
	var sum float64
	for _, s := range buf {
		sum += s[0]*s[0] + s[1]*s[1]
	}
	rms := math.Sqrt(sum / float64(2*len(buf)))
	a.level.Store(math.Min(rms, 1))
}

type captureNode struct {
	*node
	stream *captureStream
}

func (c *captureNode) Stream() mixer.MediaStream { return c.stream }
