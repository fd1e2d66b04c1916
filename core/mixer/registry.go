package mixer

import (
	"errors"
	"sync"
)

// ErrAlreadyBound a channel already has a source binding.
var ErrAlreadyBound = errors.New("channel already bound")

// Binding records which source feeds which channel. A media element's
// source node is created once and lives as long as the binding.
type Binding struct {
	Channel   Channel
	Element   MediaElement
	Source    Node
	Device    CaptureDevice
	Connected bool
}

// Registry maps channels to their bindings.
type Registry struct {
	mu       sync.RWMutex
	bindings map[Channel]*Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[Channel]*Binding)}
}

// Lookup returns the binding for ch.
func (r *Registry) Lookup(ch Channel) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[ch]
	return b, ok
}

// Bind stores b; it fails if ch is already bound.
func (r *Registry) Bind(b *Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[b.Channel]; exists {
		return ErrAlreadyBound
	}
	r.bindings[b.Channel] = b
	return nil
}

// Unbind removes and returns the binding for ch.
func (r *Registry) Unbind(ch Channel) (*Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[ch]
	delete(r.bindings, ch)
	return b, ok
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Reset drops every binding.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.bindings = make(map[Channel]*Binding)
	r.mu.Unlock()
}
