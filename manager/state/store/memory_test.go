package store

import (
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/docker/go-events"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/api/equality"
	"github.com/intentkit/intentkit/manager/state"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDelegate struct {
	mu        sync.Mutex
	processed []*api.IntentData
	notified  []api.IntentEvent
}

func (d *recordingDelegate) Process(data *api.IntentData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed = append(d.processed, data)
}

func (d *recordingDelegate) Notify(ev api.IntentEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified = append(d.notified, ev)
}

func (d *recordingDelegate) eventTypes() []api.IntentEventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	var types []api.IntentEventType
	for _, ev := range d.notified {
		types = append(types, ev.Type)
	}
	return types
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*MemoryStore, *fakeclock.FakeClock) {
	fake := fakeclock.NewFakeClock(testStart)
	s := NewMemoryStore(api.NewClock(fake))
	t.Cleanup(func() { s.Close() })
	return s, fake
}

func testIntent(name string) *api.Intent {
	return &api.Intent{
		ID:  name + "-id",
		Key: api.NewKey("test", name),
		Spec: &api.PointToPointSpec{
			Ingress: api.ConnectPoint{Device: "of:1", Port: 1},
			Egress:  api.ConnectPoint{Device: "of:2", Port: 1},
		},
	}
}

func recordAt(name string, st api.IntentState, index uint64) *api.IntentData {
	d := api.Submit(testIntent(name))
	d.State = st
	d.Version = api.Version{Index: index, Timestamp: testStart}
	return d
}

func TestWriteDropsStaleVersion(t *testing.T) {
	s, _ := newTestStore(t)
	key := api.NewKey("test", "p2p")

	require.NoError(t, s.Write(recordAt("p2p", api.IntentStateInstalled, 5)))

	// replaying an older record must not change anything
	assert.Equal(t, state.ErrStaleWrite, s.Write(recordAt("p2p", api.IntentStateInstalling, 4)))
	assert.Equal(t, state.ErrStaleWrite, s.Write(recordAt("p2p", api.IntentStateCorrupt, 4)))

	st, ok := s.GetIntentState(key)
	require.True(t, ok)
	assert.Equal(t, api.IntentStateInstalled, st)
	assert.Equal(t, uint64(5), s.GetIntentData(key).Version.Index)

	// the same write twice is idempotent
	assert.Equal(t, state.ErrStaleWrite, s.Write(recordAt("p2p", api.IntentStateInstalled, 5)))
	assert.Equal(t, 1, s.IntentCount())

	// a batch drops stale records without failing
	require.NoError(t, s.BatchWrite([]*api.IntentData{
		recordAt("p2p", api.IntentStateWithdrawn, 3),
		recordAt("p2p", api.IntentStateWithdrawing, 6),
	}))
	st, _ = s.GetIntentState(key)
	assert.Equal(t, api.IntentStateWithdrawing, st)
}

func TestAddPending(t *testing.T) {
	s, _ := newTestStore(t)
	d := &recordingDelegate{}
	require.NoError(t, s.SetDelegate(d))

	intent := testIntent("p2p")
	require.NoError(t, s.AddPending(api.Submit(intent)))

	pending := s.GetPendingData(intent.Key)
	require.NotNil(t, pending)
	assert.False(t, pending.Version.IsZero(), "queued requests get a version")
	assert.Equal(t, testStart, pending.Version.Timestamp)
	require.Len(t, d.processed, 1)
	assert.Equal(t, pending.Version, d.processed[0].Version)
	assert.Equal(t, []api.IntentEventType{api.IntentEventInstallReq}, d.eventTypes())

	// re-adding the same request processes it again without a new event
	require.NoError(t, s.AddPending(pending))
	assert.Len(t, d.processed, 2)
	assert.Len(t, d.notified, 1)

	// an older request does not replace a newer one
	older := api.Withdraw(intent)
	older.Version = pending.Version
	newer := api.Withdraw(intent)
	require.NoError(t, s.AddPending(newer))
	require.NoError(t, s.AddPending(older))
	assert.Equal(t, api.IntentStateWithdrawReq, s.GetPendingData(intent.Key).Request)
	assert.True(t, s.GetPendingData(intent.Key).Version.IsNewerThan(pending.Version))
	assert.Len(t, d.processed, 3)
	assert.Equal(t, []api.IntentEventType{api.IntentEventInstallReq, api.IntentEventWithdrawReq}, d.eventTypes())
}

func TestWriteCompletesPendingRequest(t *testing.T) {
	s, _ := newTestStore(t)
	intent := testIntent("p2p")
	require.NoError(t, s.AddPending(api.Submit(intent)))
	pending := s.GetPendingData(intent.Key)

	installing := api.NextState(pending, api.IntentStateInstalling)
	require.NoError(t, s.Write(installing))
	assert.Nil(t, s.GetPendingData(intent.Key))

	// a newer request survives writes of older records
	require.NoError(t, s.AddPending(api.Withdraw(intent)))
	require.NoError(t, s.Write(api.NextState(installing, api.IntentStateInstalled)))
	assert.NotNil(t, s.GetPendingData(intent.Key))
}

func TestRemovePending(t *testing.T) {
	s, _ := newTestStore(t)
	intent := testIntent("p2p")
	require.NoError(t, s.AddPending(api.Purge(intent)))
	pending := s.GetPendingData(intent.Key)

	require.NoError(t, s.RemovePending(intent.Key, api.Version{Index: pending.Version.Index + 1}))
	assert.NotNil(t, s.GetPendingData(intent.Key))

	require.NoError(t, s.RemovePending(intent.Key, pending.Version))
	assert.Nil(t, s.GetPendingData(intent.Key))
}

func TestNotifyAndPurge(t *testing.T) {
	s, _ := newTestStore(t)
	d := &recordingDelegate{}
	require.NoError(t, s.SetDelegate(d))

	require.NoError(t, s.BatchWrite([]*api.IntentData{
		recordAt("p2p", api.IntentStateWithdrawing, 1),
		recordAt("p2p", api.IntentStateWithdrawn, 1),
	}))
	assert.Equal(t, []api.IntentEventType{api.IntentEventWithdrawn}, d.eventTypes())

	require.NoError(t, s.Write(recordAt("p2p", api.IntentStatePurgeReq, 2)))
	assert.Nil(t, s.GetIntentData(api.NewKey("test", "p2p")))
	assert.Equal(t, 0, s.IntentCount())
	assert.Equal(t, []api.IntentEventType{api.IntentEventWithdrawn, api.IntentEventPurged}, d.eventTypes())
}

func TestSetDelegate(t *testing.T) {
	s, _ := newTestStore(t)
	d1, d2 := &recordingDelegate{}, &recordingDelegate{}

	require.NoError(t, s.SetDelegate(d1))
	require.NoError(t, s.SetDelegate(d1))
	assert.Equal(t, state.ErrDelegateSet, errors.Cause(s.SetDelegate(d2)))

	s.UnsetDelegate(d2)
	assert.Equal(t, state.ErrDelegateSet, s.SetDelegate(d2), "unsetting another delegate is a no-op")

	s.UnsetDelegate(d1)
	require.NoError(t, s.SetDelegate(d2))
}

func TestFindByState(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.BatchWrite([]*api.IntentData{
		recordAt("a", api.IntentStateInstalled, 1),
		recordAt("b", api.IntentStateCorrupt, 2),
		recordAt("c", api.IntentStateCorrupt, 3),
	}))

	var corrupt []*api.IntentData
	s.View(func(tx ReadTx) {
		var err error
		corrupt, err = FindIntents(tx, ByState(api.IntentStateCorrupt))
		require.NoError(t, err)
	})
	require.Len(t, corrupt, 2)
	for _, d := range corrupt {
		assert.Equal(t, api.IntentStateCorrupt, d.State)
	}

	s.View(func(tx ReadTx) {
		all, err := FindIntents(tx, ByAppID("test"))
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
	assert.Len(t, s.GetIntents(), 3)
}

func TestOlderThan(t *testing.T) {
	s, fake := newTestStore(t)

	require.NoError(t, s.AddPending(api.Submit(testIntent("old"))))
	fake.Increment(3 * time.Second)
	require.NoError(t, s.AddPending(api.Submit(testIntent("new"))))

	old := s.GetPendingDataOlderThan(3 * time.Second)
	require.Len(t, old, 1)
	assert.Equal(t, "old", old[0].Key().Name)

	assert.Len(t, s.GetPendingDataOlderThan(0), 2)
	assert.Empty(t, s.GetIntentDataOlderThan(time.Second))
}

func TestWatchQueue(t *testing.T) {
	s, _ := newTestStore(t)
	watch, cancel := state.Watch(s.WatchQueue(),
		state.EventCreateIntent{},
		state.EventUpdateIntent{Intent: &api.IntentData{State: api.IntentStateCorrupt},
			Checks: []state.IntentCheckFunc{state.IntentCheckState}},
		state.EventCommit{})
	defer cancel()

	require.NoError(t, s.Write(recordAt("p2p", api.IntentStateInstalling, 1)))
	require.NoError(t, s.Write(recordAt("p2p", api.IntentStateInstalled, 1)))
	require.NoError(t, s.Write(recordAt("p2p", api.IntentStateCorrupt, 2)))

	next := func() events.Event {
		select {
		case ev := <-watch:
			return ev
		case <-time.After(time.Second):
			t.Fatal("no store event")
		}
		return nil
	}

	create, ok := next().(state.EventCreateIntent)
	require.True(t, ok)
	assert.Equal(t, api.IntentStateInstalling, create.Intent.State)
	assert.IsType(t, state.EventCommit{}, next())
	// the INSTALLED update is filtered out, only its commit arrives
	assert.IsType(t, state.EventCommit{}, next())
	update, ok := next().(state.EventUpdateIntent)
	require.True(t, ok)
	assert.Equal(t, api.IntentStateCorrupt, update.Intent.State)
	assert.Equal(t, api.IntentStateInstalled, update.Old.State)
}

func TestRestore(t *testing.T) {
	s, _ := newTestStore(t)
	records := []*api.IntentData{
		recordAt("a", api.IntentStateInstalled, 40),
		recordAt("b", api.IntentStateFailed, 41),
	}
	require.NoError(t, s.Restore(records))

	for _, r := range records {
		assert.True(t, equality.IntentDataEqualStable(r, s.GetIntentData(r.Key())))
	}

	// new requests must order after everything restored
	require.NoError(t, s.AddPending(api.Submit(testIntent("c"))))
	assert.True(t, s.GetPendingData(api.NewKey("test", "c")).Version.Index > 41)
}
