// Package objtracker maps network resources to the intents that depend on
// them and asks for recompilation when the topology changes.
package objtracker

import (
	"context"
	"sort"
	"sync"

	"github.com/docker/go-events"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/watch"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrDelegateSet is returned when setting a delegate while another one is
// registered.
var ErrDelegateSet = errors.New("topology change delegate already set")

// TopologyChangeDelegate is told which intents to recompile.
type TopologyChangeDelegate interface {
	// TriggerCompile recompiles the intents of keys. With
	// compileAllFailed, every failed intent is recompiled as well.
	TriggerCompile(keys []api.Key, compileAllFailed bool)
}

// Tracker tracks the resources used by installed intents. It keeps a
// reference count per resource and intent, so overlapping installables of
// the same intent can be added and removed independently.
type Tracker struct {
	mu        sync.RWMutex
	resources map[string]map[api.Key]int
	devices   map[string]map[api.Key]int

	delegateMu sync.RWMutex
	delegate   TopologyChangeDelegate

	queue    *watch.Queue
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// New returns a tracker following the topology and resource events
// published on queue. queue may be nil when events are fed through the
// Handle methods only.
func New(queue *watch.Queue) *Tracker {
	return &Tracker{
		resources: make(map[string]map[api.Key]int),
		devices:   make(map[string]map[api.Key]int),
		queue:     queue,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// SetDelegate registers the delegate recompilations are requested from.
func (t *Tracker) SetDelegate(d TopologyChangeDelegate) error {
	t.delegateMu.Lock()
	defer t.delegateMu.Unlock()
	if t.delegate != nil && t.delegate != d {
		return ErrDelegateSet
	}
	t.delegate = d
	return nil
}

// UnsetDelegate removes d if it is the registered delegate.
func (t *Tracker) UnsetDelegate(d TopologyChangeDelegate) {
	t.delegateMu.Lock()
	defer t.delegateMu.Unlock()
	if t.delegate == d {
		t.delegate = nil
	}
}

// AddTrackedResources records that the intent of key depends on resources.
func (t *Tracker) AddTrackedResources(key api.Key, resources []api.NetworkResource) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range resources {
		inc(t.resources, r.ResourceKey(), key)
		for _, device := range r.Devices() {
			inc(t.devices, string(device), key)
		}
	}
}

// RemoveTrackedResources drops the dependency of the intent of key on
// resources.
func (t *Tracker) RemoveTrackedResources(key api.Key, resources []api.NetworkResource) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range resources {
		dec(t.resources, r.ResourceKey(), key)
		for _, device := range r.Devices() {
			dec(t.devices, string(device), key)
		}
	}
}

// TrackedResources returns the sorted keys of the resources the intent of
// key depends on.
func (t *Tracker) TrackedResources(key api.Key) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for resource, intents := range t.resources {
		if _, ok := intents[key]; ok {
			out = append(out, resource)
		}
	}
	sort.Strings(out)
	return out
}

// HandleTopologyEvent asks the delegate to recompile the intents affected by
// ev. Removals are scoped to the intents using the removed element. Any
// other change, and a removal nobody depends on, may have made failed
// intents compilable again.
func (t *Tracker) HandleTopologyEvent(ev api.TopologyEvent) {
	if len(ev.Reasons) == 0 {
		t.trigger(nil, true)
		return
	}

	t.mu.RLock()
	affected := make(map[api.Key]struct{})
	compileAllFailed := false
	for _, reason := range ev.Reasons {
		switch {
		case reason.Type == api.LinkRemoved:
			collect(affected, t.resources[reason.Subject.ResourceKey()])
		case isDeviceGone(reason):
			matched := false
			for _, device := range reason.Subject.Devices() {
				if intents := t.devices[string(device)]; len(intents) > 0 {
					collect(affected, intents)
					matched = true
				}
			}
			if !matched {
				compileAllFailed = true
			}
		default:
			compileAllFailed = true
		}
	}
	t.mu.RUnlock()

	t.trigger(sortedKeys(affected), compileAllFailed)
}

// HandleResourceEvent asks the delegate to recompile the intents affected by
// ev.
func (t *Tracker) HandleResourceEvent(ev api.ResourceEvent) {
	if ev.Type == api.ResourceAdded || ev.Resource == nil {
		t.trigger(nil, true)
		return
	}

	t.mu.RLock()
	affected := make(map[api.Key]struct{})
	collect(affected, t.resources[ev.Resource.ResourceKey()])
	t.mu.RUnlock()

	t.trigger(sortedKeys(affected), false)
}

func (t *Tracker) trigger(keys []api.Key, compileAllFailed bool) {
	if keys == nil {
		keys = []api.Key{}
	}

	t.delegateMu.RLock()
	d := t.delegate
	t.delegateMu.RUnlock()
	if d == nil {
		log.L.WithField("module", "objtracker").Debug("no delegate for topology change")
		return
	}

	log.L.WithFields(logrus.Fields{
		"module":             "objtracker",
		"intents":            len(keys),
		"compile.all.failed": compileAllFailed,
	}).Debug("triggering recompilation")
	d.TriggerCompile(keys, compileAllFailed)
}

// Run follows the event queue until ctx is cancelled or Stop is called.
func (t *Tracker) Run(ctx context.Context) {
	defer close(t.doneChan)

	if t.queue == nil {
		select {
		case <-ctx.Done():
		case <-t.stopChan:
		}
		return
	}

	eventq, cancel := t.queue.CallbackWatch(events.MatcherFunc(func(ev events.Event) bool {
		switch ev.(type) {
		case api.TopologyEvent, api.ResourceEvent:
			return true
		}
		return false
	}))
	defer cancel()

	for {
		select {
		case ev, ok := <-eventq:
			if !ok {
				return
			}
			switch v := ev.(type) {
			case api.TopologyEvent:
				t.HandleTopologyEvent(v)
			case api.ResourceEvent:
				t.HandleResourceEvent(v)
			}
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		}
	}
}

// Stop stops Run and waits for it to return. It must only be called after
// Run was started.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
	<-t.doneChan
}

func isDeviceGone(reason api.TopologyReason) bool {
	switch reason.Type {
	case api.DeviceRemoved:
		return true
	case api.DeviceAvailabilityChanged:
		return !reason.Available
	}
	return false
}

func inc(m map[string]map[api.Key]int, k string, key api.Key) {
	intents, ok := m[k]
	if !ok {
		intents = make(map[api.Key]int)
		m[k] = intents
	}
	intents[key]++
}

func dec(m map[string]map[api.Key]int, k string, key api.Key) {
	intents, ok := m[k]
	if !ok {
		return
	}
	if intents[key] <= 1 {
		delete(intents, key)
	} else {
		intents[key]--
	}
	if len(intents) == 0 {
		delete(m, k)
	}
}

func collect(into map[api.Key]struct{}, intents map[api.Key]int) {
	for key := range intents {
		into[key] = struct{}{}
	}
}

func sortedKeys(set map[api.Key]struct{}) []api.Key {
	keys := make([]api.Key, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
