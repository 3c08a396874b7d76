// Package topology keeps the network graph the compilers route over and
// publishes its changes as topology and resource events.
package topology

import (
	"sort"
	"sync"

	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/watch"
	"github.com/pkg/errors"
)

// maxPaths bounds the number of equal cost paths returned by Paths.
const maxPaths = 16

var (
	// ErrUnknownDevice is returned when an element refers to a device
	// that is not part of the topology.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrUnknownLink is returned when removing a link that does not exist.
	ErrUnknownLink = errors.New("unknown link")
)

type device struct {
	available bool
	ports     map[api.PortNumber]struct{}
}

// Topology is an in-memory network graph. Links are directed.
type Topology struct {
	mu      sync.RWMutex
	devices map[api.DeviceID]*device
	links   map[string]api.Link

	queue *watch.Queue
}

// New returns an empty topology publishing to queue. queue may be nil.
func New(queue *watch.Queue) *Topology {
	return &Topology{
		devices: make(map[api.DeviceID]*device),
		links:   make(map[string]api.Link),
		queue:   queue,
	}
}

func (t *Topology) publish(ev interface{}) {
	if t.queue != nil {
		t.queue.Publish(ev)
	}
}

func topologyEvent(reasons ...api.TopologyReason) api.TopologyEvent {
	return api.TopologyEvent{Reasons: reasons}
}

// AddDevice adds an available device. Adding a known device is a no-op.
func (t *Topology) AddDevice(id api.DeviceID) {
	t.mu.Lock()
	if _, ok := t.devices[id]; ok {
		t.mu.Unlock()
		return
	}
	t.devices[id] = &device{available: true, ports: make(map[api.PortNumber]struct{})}
	t.mu.Unlock()

	t.publish(topologyEvent(api.TopologyReason{Type: api.DeviceAdded, Subject: id}))
	t.publish(api.ResourceEvent{Type: api.ResourceAdded, Resource: id})
}

// RemoveDevice removes a device along with its links.
func (t *Topology) RemoveDevice(id api.DeviceID) error {
	t.mu.Lock()
	if _, ok := t.devices[id]; !ok {
		t.mu.Unlock()
		return errors.Wrapf(ErrUnknownDevice, "%s", id)
	}
	var reasons []api.TopologyReason
	for _, key := range t.sortedLinkKeys() {
		link := t.links[key]
		if link.Src.Device == id || link.Dst.Device == id {
			delete(t.links, key)
			reasons = append(reasons, api.TopologyReason{Type: api.LinkRemoved, Subject: link})
		}
	}
	delete(t.devices, id)
	t.mu.Unlock()

	reasons = append(reasons, api.TopologyReason{Type: api.DeviceRemoved, Subject: id})
	t.publish(topologyEvent(reasons...))
	t.publish(api.ResourceEvent{Type: api.ResourceRemoved, Resource: id})
	return nil
}

// SetAvailable marks a device as reachable or not. Unavailable devices are
// skipped by Paths.
func (t *Topology) SetAvailable(id api.DeviceID, available bool) error {
	t.mu.Lock()
	d, ok := t.devices[id]
	if !ok {
		t.mu.Unlock()
		return errors.Wrapf(ErrUnknownDevice, "%s", id)
	}
	changed := d.available != available
	d.available = available
	t.mu.Unlock()

	if changed {
		t.publish(topologyEvent(api.TopologyReason{
			Type:      api.DeviceAvailabilityChanged,
			Subject:   id,
			Available: available,
		}))
	}
	return nil
}

// AddPort adds a port to a device.
func (t *Topology) AddPort(cp api.ConnectPoint) error {
	t.mu.Lock()
	d, ok := t.devices[cp.Device]
	if !ok {
		t.mu.Unlock()
		return errors.Wrapf(ErrUnknownDevice, "%s", cp.Device)
	}
	_, exists := d.ports[cp.Port]
	d.ports[cp.Port] = struct{}{}
	t.mu.Unlock()

	if !exists {
		t.publish(api.ResourceEvent{Type: api.ResourceAdded, Resource: cp})
	}
	return nil
}

// RemovePort removes a port from a device.
func (t *Topology) RemovePort(cp api.ConnectPoint) error {
	t.mu.Lock()
	d, ok := t.devices[cp.Device]
	if !ok {
		t.mu.Unlock()
		return errors.Wrapf(ErrUnknownDevice, "%s", cp.Device)
	}
	_, exists := d.ports[cp.Port]
	delete(d.ports, cp.Port)
	t.mu.Unlock()

	if exists {
		t.publish(api.ResourceEvent{Type: api.ResourceRemoved, Resource: cp})
	}
	return nil
}

// AddLink adds a directed link between two known devices. The ports of the
// link are added to the devices.
func (t *Topology) AddLink(link api.Link) error {
	t.mu.Lock()
	for _, id := range []api.DeviceID{link.Src.Device, link.Dst.Device} {
		if _, ok := t.devices[id]; !ok {
			t.mu.Unlock()
			return errors.Wrapf(ErrUnknownDevice, "%s in link %s", id, link)
		}
	}
	key := link.ResourceKey()
	_, exists := t.links[key]
	t.links[key] = link
	t.devices[link.Src.Device].ports[link.Src.Port] = struct{}{}
	t.devices[link.Dst.Device].ports[link.Dst.Port] = struct{}{}
	t.mu.Unlock()

	if !exists {
		t.publish(topologyEvent(api.TopologyReason{Type: api.LinkAdded, Subject: link}))
	}
	return nil
}

// RemoveLink removes a directed link.
func (t *Topology) RemoveLink(link api.Link) error {
	t.mu.Lock()
	key := link.ResourceKey()
	if _, ok := t.links[key]; !ok {
		t.mu.Unlock()
		return errors.Wrapf(ErrUnknownLink, "%s", link)
	}
	delete(t.links, key)
	t.mu.Unlock()

	t.publish(topologyEvent(api.TopologyReason{Type: api.LinkRemoved, Subject: link}))
	return nil
}

// Devices returns the known devices, sorted.
func (t *Topology) Devices() []api.DeviceID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	devices := make([]api.DeviceID, 0, len(t.devices))
	for id := range t.devices {
		devices = append(devices, id)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	return devices
}

// Links returns the known links, ordered by their resource key.
func (t *Topology) Links() []api.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	links := make([]api.Link, 0, len(t.links))
	for _, key := range t.sortedLinkKeys() {
		links = append(links, t.links[key])
	}
	return links
}

func (t *Topology) sortedLinkKeys() []string {
	keys := make([]string, 0, len(t.links))
	for key := range t.links {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
