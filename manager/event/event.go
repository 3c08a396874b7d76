// Package event delivers intent lifecycle events to listeners.
package event

import (
	"sync"

	"github.com/intentkit/intentkit/api"
)

// Listener receives intent events.
type Listener interface {
	Event(ev api.IntentEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev api.IntentEvent)

// Event calls f(ev).
func (f ListenerFunc) Event(ev api.IntentEvent) {
	f(ev)
}

// ListenerRegistry keeps the set of registered listeners.
type ListenerRegistry struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener
	order     []uint64
}

// NewListenerRegistry returns an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		listeners: make(map[uint64]Listener),
	}
}

// AddListener registers l. The returned function removes it again.
func (r *ListenerRegistry) AddListener(l Listener) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.listeners[id] = l
	r.order = append(r.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *ListenerRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.listeners, id)
	for i, cur := range r.order {
		if cur == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered listeners.
func (r *ListenerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Process delivers ev to every listener in registration order. A listener
// that panics does not prevent delivery to the others.
func (r *ListenerRegistry) Process(ev api.IntentEvent) {
	r.mu.RLock()
	listeners := make([]Listener, 0, len(r.order))
	for _, id := range r.order {
		listeners = append(listeners, r.listeners[id])
	}
	r.mu.RUnlock()

	for _, l := range listeners {
		deliver(l, ev)
	}
}
