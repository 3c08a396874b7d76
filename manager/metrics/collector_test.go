package metrics

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/state/store"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/require"
)

func record(name string, st api.IntentState, index uint64) *api.IntentData {
	d := api.Submit(&api.Intent{
		ID:   name + "-id",
		Key:  api.NewKey("test", name),
		Spec: &api.FlowRuleSpec{},
	})
	d.State = st
	d.Version = api.Version{Index: index, Timestamp: time.Now()}
	return d
}

func TestCollectorCounts(t *testing.T) {
	g := NewGomegaWithT(t)
	s := store.NewMemoryStore(api.NewClock(fakeclock.NewFakeClock(time.Now())))
	defer s.Close()

	// recorded before the collector starts
	require.NoError(t, s.Write(record("a", api.IntentStateInstalled, 1)))

	c := NewCollector(s)
	go c.Run(context.Background())
	defer c.Stop()

	g.Eventually(c.Counts).Should(Equal(map[api.IntentState]int{
		api.IntentStateInstalled: 1,
	}))

	require.NoError(t, s.Write(record("b", api.IntentStateInstalling, 2)))
	require.NoError(t, s.Write(record("a", api.IntentStateCorrupt, 3)))
	g.Eventually(c.Counts).Should(Equal(map[api.IntentState]int{
		api.IntentStateInstalling: 1,
		api.IntentStateCorrupt:    1,
	}))

	require.NoError(t, s.Write(record("b", api.IntentStatePurgeReq, 4)))
	g.Eventually(c.Counts).Should(Equal(map[api.IntentState]int{
		api.IntentStateCorrupt: 1,
	}))

	require.NoError(t, s.AddPending(record("c", api.IntentStateInstallReq, 5)))
	g.Eventually(c.Pending).Should(Equal(1))
}
