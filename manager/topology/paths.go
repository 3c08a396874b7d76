package topology

import (
	"container/list"

	"github.com/intentkit/intentkit/api"
)

// Paths returns the shortest paths from src to dst over available devices,
// at most maxPaths of them. The order is stable for a given topology.
func (t *Topology) Paths(src, dst api.DeviceID) [][]api.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.usable(src) || !t.usable(dst) || src == dst {
		return nil
	}

	out := make(map[api.DeviceID][]api.Link)
	for _, key := range t.sortedLinkKeys() {
		link := t.links[key]
		if t.usable(link.Src.Device) && t.usable(link.Dst.Device) {
			out[link.Src.Device] = append(out[link.Src.Device], link)
		}
	}

	// breadth first search, remembering every link reaching a device
	// over a shortest path
	dist := map[api.DeviceID]int{src: 0}
	via := make(map[api.DeviceID][]api.Link)
	queue := list.New()
	queue.PushBack(src)
	for queue.Len() > 0 {
		at := queue.Remove(queue.Front()).(api.DeviceID)
		if at == dst {
			continue
		}
		for _, link := range out[at] {
			next := link.Dst.Device
			d, seen := dist[next]
			switch {
			case !seen:
				dist[next] = dist[at] + 1
				via[next] = append(via[next], link)
				queue.PushBack(next)
			case d == dist[at]+1:
				via[next] = append(via[next], link)
			}
		}
	}
	if _, ok := dist[dst]; !ok {
		return nil
	}

	var paths [][]api.Link
	var walk func(at api.DeviceID, suffix []api.Link)
	walk = func(at api.DeviceID, suffix []api.Link) {
		if len(paths) >= maxPaths {
			return
		}
		if at == src {
			path := make([]api.Link, len(suffix))
			for i := range suffix {
				path[i] = suffix[len(suffix)-1-i]
			}
			paths = append(paths, path)
			return
		}
		for _, link := range via[at] {
			walk(link.Src.Device, append(suffix, link))
		}
	}
	walk(dst, nil)
	return paths
}

func (t *Topology) usable(id api.DeviceID) bool {
	d, ok := t.devices[id]
	return ok && d.available
}
