package event

import (
	"github.com/docker/go-events"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
)

// Dispatcher posts events to the listeners of a registry.
type Dispatcher interface {
	Post(ev api.IntentEvent)
	Close() error
}

// NewSyncDispatcher returns a dispatcher that delivers events on the posting
// goroutine before Post returns.
func NewSyncDispatcher(registry *ListenerRegistry) Dispatcher {
	return syncDispatcher{registry: registry}
}

type syncDispatcher struct {
	registry *ListenerRegistry
}

func (d syncDispatcher) Post(ev api.IntentEvent) {
	d.registry.Process(ev)
}

func (d syncDispatcher) Close() error {
	return nil
}

// NewAsyncDispatcher returns a dispatcher that delivers events from a
// dedicated goroutine, in post order. Close flushes queued events.
func NewAsyncDispatcher(registry *ListenerRegistry) Dispatcher {
	return &asyncDispatcher{
		queue: events.NewQueue(registrySink{registry: registry}),
	}
}

type asyncDispatcher struct {
	queue *events.Queue
}

func (d *asyncDispatcher) Post(ev api.IntentEvent) {
	if err := d.queue.Write(ev); err != nil {
		log.L.WithError(err).WithField("event", ev.Type.String()).Warn("dropped intent event")
	}
}

func (d *asyncDispatcher) Close() error {
	return d.queue.Close()
}

// registrySink adapts a ListenerRegistry to events.Sink.
type registrySink struct {
	registry *ListenerRegistry
}

func (s registrySink) Write(event events.Event) error {
	if ev, ok := event.(api.IntentEvent); ok {
		s.registry.Process(ev)
	}
	return nil
}

func (s registrySink) Close() error {
	return nil
}

func deliver(l Listener, ev api.IntentEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.L.WithField("event", ev.Type.String()).Errorf("intent listener panicked: %v", r)
		}
	}()
	l.Event(ev)
}
