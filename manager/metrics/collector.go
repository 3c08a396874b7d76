// Package metrics exports gauges describing the intents held by the store.
package metrics

import (
	"context"
	"sync"

	"github.com/docker/go-events"
	gometrics "github.com/docker/go-metrics"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/state"
	"github.com/intentkit/intentkit/watch"
)

var (
	ns           = gometrics.NewNamespace("intentkit", "store", nil)
	intentsGauge gometrics.LabeledGauge
	pendingGauge gometrics.Gauge
)

func init() {
	intentsGauge = ns.NewLabeledGauge("intents", "The number of intents in each state.", gometrics.Total, "state")
	pendingGauge = ns.NewGauge("pending", "The number of requests waiting to be processed.", gometrics.Total)
	gometrics.Register(ns)
}

// Source is the store the collector follows.
type Source interface {
	WatchQueue() *watch.Queue
	GetIntentDataAll() []*api.IntentData
	GetPendingDataAll() []*api.IntentData
}

// Collector keeps the intent gauges current.
type Collector struct {
	store Source

	mu      sync.Mutex
	states  map[api.Key]api.IntentState
	pending int

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewCollector returns a collector following store.
func NewCollector(store Source) *Collector {
	return &Collector{
		store:    store,
		states:   make(map[api.Key]api.IntentState),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Run follows the store until ctx is cancelled or Stop is called.
func (c *Collector) Run(ctx context.Context) error {
	defer close(c.doneChan)

	eventq, cancel := state.Watch(c.store.WatchQueue(),
		state.EventCreateIntent{},
		state.EventUpdateIntent{},
		state.EventDeleteIntent{},
		state.EventPendingIntent{},
	)
	defer cancel()

	// events for records already included here are applied again, which
	// leaves the counts unchanged
	c.mu.Lock()
	for _, d := range c.store.GetIntentDataAll() {
		c.states[d.Key()] = d.State
	}
	c.pending = len(c.store.GetPendingDataAll())
	c.publish()
	c.mu.Unlock()

	for {
		select {
		case ev := <-eventq:
			c.handle(ev)
		case <-c.stopChan:
			return nil
		case <-ctx.Done():
			log.G(ctx).Debug("intent metrics collector stopped")
			return ctx.Err()
		}
	}
}

// Stop stops the collector and waits for Run to return.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	<-c.doneChan
}

func (c *Collector) handle(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch v := ev.(type) {
	case state.EventCreateIntent:
		c.states[v.Intent.Key()] = v.Intent.State
	case state.EventUpdateIntent:
		c.states[v.Intent.Key()] = v.Intent.State
	case state.EventDeleteIntent:
		delete(c.states, v.Intent.Key())
	case state.EventPendingIntent:
	default:
		return
	}
	// removing a request publishes nothing, so the queue is read back
	c.pending = len(c.store.GetPendingDataAll())
	c.publish()
}

func (c *Collector) publish() {
	counts := c.counts()
	for s := range stateNames() {
		intentsGauge.WithValues(s.String()).Set(float64(counts[s]))
	}
	pendingGauge.Set(float64(c.pending))
}

func (c *Collector) counts() map[api.IntentState]int {
	counts := make(map[api.IntentState]int)
	for _, s := range c.states {
		counts[s]++
	}
	return counts
}

// Counts returns the number of intents in each state.
func (c *Collector) Counts() map[api.IntentState]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts()
}

// Pending returns the number of queued requests seen at the last event.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func stateNames() map[api.IntentState]struct{} {
	return map[api.IntentState]struct{}{
		api.IntentStateInstallReq:  {},
		api.IntentStateInstalling:  {},
		api.IntentStateInstalled:   {},
		api.IntentStateWithdrawReq: {},
		api.IntentStateWithdrawing: {},
		api.IntentStateWithdrawn:   {},
		api.IntentStateFailed:      {},
		api.IntentStateCorrupt:     {},
		api.IntentStatePurgeReq:    {},
	}
}
