package persist

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/state/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(name string, st api.IntentState, index uint64) *api.IntentData {
	rule := api.NewFlowRule(api.NewKey("test", "a"), "s1", 10, api.TrafficSelector{InPort: 1}, api.TrafficTreatment{Outputs: []api.PortNumber{2}})
	d := api.Submit(&api.Intent{
		ID:   name + "-id",
		Key:  api.NewKey("test", name),
		Spec: &api.FlowRuleSpec{Rules: []api.FlowRule{rule}},
	})
	d.State = st
	d.Version = api.Version{Index: index, Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return d
}

func states(records []*api.IntentData) map[string]api.IntentState {
	out := make(map[string]api.IntentState)
	for _, d := range records {
		out[d.Key().String()] = d.State
	}
	return out
}

func openTestDB(t *testing.T) (*DB, string) {
	dir, err := ioutil.TempDir("", "intent-persist")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "intents.db")
	db, err := Open(path)
	require.NoError(t, err)
	return db, path
}

func TestSnapshotterFollowsStore(t *testing.T) {
	db, path := openTestDB(t)
	s := store.NewMemoryStore(api.NewClock(fakeclock.NewFakeClock(time.Now())))
	defer s.Close()

	// stale entries are dropped by the first sync
	require.NoError(t, db.Sync([]*api.IntentData{record("gone", api.IntentStateInstalled, 1)}))
	require.NoError(t, s.Write(record("a", api.IntentStateInstalled, 2)))

	snap := NewSnapshotter(db, s)
	go snap.Run(context.Background())

	load := func() map[string]api.IntentState {
		records, err := db.Load()
		if err != nil {
			return nil
		}
		return states(records)
	}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(map[string]api.IntentState{"test/a": api.IntentStateInstalled}, load())
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Write(record("b", api.IntentStateCorrupt, 3)))
	require.NoError(t, s.Write(record("a", api.IntentStatePurgeReq, 4)))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(map[string]api.IntentState{"test/b": api.IntentStateCorrupt}, load())
	}, time.Second, 5*time.Millisecond)

	snap.Stop()
	require.NoError(t, db.Close())

	// a restart restores the records with their installables
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()
	records, err := db.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	restored := store.NewMemoryStore(api.NewClock(fakeclock.NewFakeClock(time.Now())))
	defer restored.Close()
	require.NoError(t, restored.Restore(records))

	b := restored.GetIntentData(api.NewKey("test", "b"))
	require.NotNil(t, b)
	assert.Equal(t, api.IntentStateCorrupt, b.State)
	assert.Equal(t, uint64(3), b.Version.Index)
	spec, ok := b.Intent.Spec.(*api.FlowRuleSpec)
	require.True(t, ok)
	assert.Len(t, spec.Rules, 1)
}
