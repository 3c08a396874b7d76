package topology

import (
	"testing"
	"time"

	"github.com/docker/go-events"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/watch"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cp(device api.DeviceID, port api.PortNumber) api.ConnectPoint {
	return api.ConnectPoint{Device: device, Port: port}
}

func link(src api.DeviceID, sp api.PortNumber, dst api.DeviceID, dp api.PortNumber) api.Link {
	return api.Link{Src: cp(src, sp), Dst: cp(dst, dp)}
}

// diamond builds s1 -> {s2, s4} -> s3 plus a longer detour s1 -> s5 -> s6 -> s3.
func diamond(t *testing.T, queue *watch.Queue) *Topology {
	topo := New(queue)
	for _, id := range []api.DeviceID{"s1", "s2", "s3", "s4", "s5", "s6"} {
		topo.AddDevice(id)
	}
	for _, l := range []api.Link{
		link("s1", 2, "s2", 1),
		link("s2", 2, "s3", 1),
		link("s1", 3, "s4", 1),
		link("s4", 2, "s3", 2),
		link("s1", 4, "s5", 1),
		link("s5", 2, "s6", 1),
		link("s6", 2, "s3", 3),
	} {
		require.NoError(t, topo.AddLink(l))
	}
	return topo
}

func TestPathsShortestOnly(t *testing.T) {
	topo := diamond(t, nil)
	paths := topo.Paths("s1", "s3")
	require.Len(t, paths, 2)
	assert.ElementsMatch(t, [][]api.Link{
		{link("s1", 2, "s2", 1), link("s2", 2, "s3", 1)},
		{link("s1", 3, "s4", 1), link("s4", 2, "s3", 2)},
	}, paths)

	// directed links do not lead back
	assert.Empty(t, topo.Paths("s3", "s1"))
	assert.Empty(t, topo.Paths("s1", "s1"))
	assert.Empty(t, topo.Paths("s1", "s9"))
}

func TestPathsAvoidUnavailableDevices(t *testing.T) {
	topo := diamond(t, nil)
	require.NoError(t, topo.SetAvailable("s2", false))
	require.NoError(t, topo.SetAvailable("s4", false))
	paths := topo.Paths("s1", "s3")
	require.Len(t, paths, 1)
	assert.Len(t, paths[0], 3)

	require.NoError(t, topo.RemoveLink(link("s5", 2, "s6", 1)))
	assert.Empty(t, topo.Paths("s1", "s3"))
}

func TestRemoveDeviceRemovesLinks(t *testing.T) {
	topo := diamond(t, nil)
	require.NoError(t, topo.RemoveDevice("s2"))
	assert.Len(t, topo.Links(), 5)
	assert.Equal(t, []api.DeviceID{"s1", "s3", "s4", "s5", "s6"}, topo.Devices())
	assert.Equal(t, ErrUnknownDevice, errors.Cause(topo.RemoveDevice("s2")))
	assert.Equal(t, ErrUnknownDevice, errors.Cause(topo.AddLink(link("s2", 1, "s3", 9))))
}

func receive(t *testing.T, ch chan events.Event) events.Event {
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return nil
}

func TestEvents(t *testing.T) {
	queue := watch.NewQueue()
	defer queue.Close()
	ch, cancel := queue.Watch()
	defer cancel()

	topo := New(queue)
	topo.AddDevice("s1")
	topo.AddDevice("s2")
	for i := 0; i < 4; i++ {
		receive(t, ch)
	}

	l := link("s1", 1, "s2", 1)
	require.NoError(t, topo.AddLink(l))
	ev := receive(t, ch).(api.TopologyEvent)
	assert.Equal(t, api.LinkAdded, ev.Reasons[0].Type)

	require.NoError(t, topo.AddPort(cp("s1", 7)))
	res := receive(t, ch).(api.ResourceEvent)
	assert.Equal(t, api.ResourceAdded, res.Type)
	assert.Equal(t, cp("s1", 7), res.Resource)

	require.NoError(t, topo.RemoveDevice("s2"))
	ev = receive(t, ch).(api.TopologyEvent)
	require.Len(t, ev.Reasons, 2)
	assert.Equal(t, api.LinkRemoved, ev.Reasons[0].Type)
	assert.Equal(t, l, ev.Reasons[0].Subject)
	assert.Equal(t, api.DeviceRemoved, ev.Reasons[1].Type)
	res = receive(t, ch).(api.ResourceEvent)
	assert.Equal(t, api.ResourceRemoved, res.Type)

	require.NoError(t, topo.SetAvailable("s1", false))
	ev = receive(t, ch).(api.TopologyEvent)
	assert.Equal(t, api.DeviceAvailabilityChanged, ev.Reasons[0].Type)
	assert.False(t, ev.Reasons[0].Available)
}
