package watch

import (
	"sync"

	"github.com/docker/go-events"
)

// Queue is the structure used to publish events and watch for them.
type Queue struct {
	mu        sync.Mutex
	broadcast *events.Broadcaster
	closed    bool
}

// NewQueue creates a new publish/subscribe queue which supports watchers.
// Every watcher gets its own unbounded queue, so a slow watcher never blocks
// publishers or other watchers. Events are delivered in publish order.
func NewQueue() *Queue {
	return &Queue{
		broadcast: events.NewBroadcaster(),
	}
}

// Watch returns a channel which will receive all items published to the
// queue from this point, until the cancel function is called.
func (q *Queue) Watch() (eventq chan events.Event, cancel func()) {
	return q.CallbackWatch(nil)
}

// CallbackWatch returns a channel which will receive all events published to
// the queue from this point that pass the check in the provided callback
// function. The returned cancel function will stop the flow of events.
func (q *Queue) CallbackWatch(matcher events.Matcher) (eventq chan events.Event, cancel func()) {
	ch := events.NewChannel(0)
	sink := events.Sink(events.NewQueue(ch))

	if matcher != nil {
		sink = events.NewFilter(sink, matcher)
	}

	q.broadcast.Add(sink)

	var once sync.Once
	return ch.C, func() {
		once.Do(func() {
			q.broadcast.Remove(sink)
			ch.Close()
			sink.Close()
		})
	}
}

// Publish adds an item to the queue. Publishing to a closed queue is a no-op.
func (q *Queue) Publish(item events.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.broadcast.Write(item)
}

// Close closes the queue and frees the associated resources.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.broadcast.Close()
}
