package intent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/intent/testutils"
	"github.com/intentkit/intentkit/manager/state/store"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asyncInstaller completes every operation from its own goroutine.
type asyncInstaller struct {
	coordinator *InstallCoordinator
	fail        int32
	calls       int32

	mu          sync.Mutex
	uninstalled []*api.Intent
	installed   []*api.Intent
}

func (i *asyncInstaller) Apply(ctx *OperationContext) {
	atomic.AddInt32(&i.calls, 1)
	i.mu.Lock()
	i.uninstalled = append(i.uninstalled, ctx.IntentsToUninstall...)
	i.installed = append(i.installed, ctx.IntentsToInstall...)
	i.mu.Unlock()

	fail := atomic.LoadInt32(&i.fail) == 1
	go func() {
		if fail {
			i.coordinator.Failed(ctx)
			return
		}
		i.coordinator.Success(ctx)
	}()
}

func (i *asyncInstaller) Calls() int {
	return int(atomic.LoadInt32(&i.calls))
}

func (i *asyncInstaller) Uninstalled() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.uninstalled)
}

func (i *asyncInstaller) SetFail(fail bool) {
	var v int32
	if fail {
		v = 1
	}
	atomic.StoreInt32(&i.fail, v)
}

// switchCompiler compiles a mock intent into one installable, or fails
// while broken is set.
type switchCompiler struct {
	broken int32
	calls  int32
}

func (c *switchCompiler) Compile(intent *api.Intent, installed []*api.Intent) ([]*api.Intent, error) {
	atomic.AddInt32(&c.calls, 1)
	if atomic.LoadInt32(&c.broken) == 1 {
		return nil, errors.New("compiler is broken")
	}
	return []*api.Intent{testutils.NewMockInstallable(intent.Key, intent.Spec.(*testutils.MockSpec).Number)}, nil
}

func (c *switchCompiler) SetBroken(broken bool) {
	var v int32
	if broken {
		v = 1
	}
	atomic.StoreInt32(&c.broken, v)
}

type testManager struct {
	*Manager
	store     *store.MemoryStore
	events    *testutils.EventRecorder
	compiler  *switchCompiler
	installer *asyncInstaller
	stop      func()
}

func newTestManager(t *testing.T) *testManager {
	s := store.NewMemoryStore(nil)
	cfg := DefaultConfig()
	cfg.SynchronousEvents = true
	cfg.MaxIdle = time.Millisecond

	m := New(s, nil, cfg)
	tm := &testManager{
		Manager:   m,
		store:     s,
		events:    testutils.NewEventRecorder(),
		compiler:  &switchCompiler{},
		installer: &asyncInstaller{coordinator: m.Coordinator()},
	}
	m.AddListener(tm.events)
	require.NoError(t, m.RegisterCompiler(testutils.TypeMock, tm.compiler))
	require.NoError(t, m.RegisterInstaller(testutils.TypeMockInstallable, tm.installer))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, m.Run(ctx))
	}()
	tm.stop = func() {
		cancel()
		<-done
		s.Close()
	}
	return tm
}

func (tm *testManager) state(key api.Key) func() api.IntentState {
	return func() api.IntentState {
		st, _ := tm.GetIntentState(key)
		return st
	}
}

func TestSubmitInstalls(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()

	intent := testutils.NewMockIntent("installed", 1)
	require.NoError(t, tm.Submit(intent))

	g.Eventually(tm.events.Types, time.Second).Should(Equal([]api.IntentEventType{
		api.IntentEventInstallReq,
		api.IntentEventInstalled,
	}))
	assert.Equal(t, 1, tm.IntentCount())
	assert.Equal(t, 1, tm.installer.Calls())
	assert.Equal(t, 0, tm.events.Count(api.IntentEventCorrupt))
	assert.Len(t, tm.GetInstallableIntents(intent.Key), 1)
	g.Eventually(tm.GetPending, time.Second).Should(BeEmpty())

	data := tm.GetIntentData(intent.Key)
	require.NotNil(t, data)
	assert.Equal(t, api.IntentStateInstalled, data.State)
	assert.Equal(t, api.IntentStateInstallReq, data.Request)
	assert.Equal(t, 0, data.ErrorCount)
}

func TestSubmitCompileFailure(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()
	tm.compiler.SetBroken(true)

	intent := testutils.NewMockIntent("failed", 1)
	require.NoError(t, tm.Submit(intent))

	g.Eventually(tm.events.Types, time.Second).Should(Equal([]api.IntentEventType{
		api.IntentEventInstallReq,
		api.IntentEventFailed,
	}))
	assert.Equal(t, 0, tm.installer.Calls())
	assert.Empty(t, tm.GetInstallableIntents(intent.Key))
}

func TestSubmitWithoutCompiler(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()
	tm.UnregisterCompiler(testutils.TypeMock)

	intent := testutils.NewMockIntent("uncompilable", 1)
	require.NoError(t, tm.Submit(intent))

	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateFailed))
	assert.Equal(t, 0, tm.installer.Calls())
}

func TestSubmitWithoutInstaller(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()
	tm.UnregisterInstaller(testutils.TypeMockInstallable)

	intent := testutils.NewMockIntent("uninstallable", 1)
	require.NoError(t, tm.Submit(intent))

	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateCorrupt))
	assert.Equal(t, 1, tm.GetIntentData(intent.Key).ErrorCount)
}

func TestInstallFailureCountsErrors(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()
	tm.installer.SetFail(true)

	intent := testutils.NewMockIntent("corrupt", 1)
	require.NoError(t, tm.Submit(intent))
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateCorrupt))
	assert.Equal(t, 1, tm.GetIntentData(intent.Key).ErrorCount)

	// the error count survives a retry
	require.NoError(t, tm.Submit(intent))
	g.Eventually(func() int {
		return tm.events.Count(api.IntentEventCorrupt)
	}, time.Second).Should(Equal(2))
	assert.Equal(t, 2, tm.GetIntentData(intent.Key).ErrorCount)

	// and is reset by a successful installation
	tm.installer.SetFail(false)
	require.NoError(t, tm.Submit(intent))
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateInstalled))
	assert.Equal(t, 0, tm.GetIntentData(intent.Key).ErrorCount)
}

func TestWithdrawAndPurge(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()

	intent := testutils.NewMockIntent("withdrawn", 1)
	require.NoError(t, tm.Submit(intent))
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateInstalled))

	// purging an installed intent is refused
	require.NoError(t, tm.Purge(intent))
	g.Eventually(tm.GetPending, time.Second).Should(BeEmpty())
	assert.Equal(t, 1, tm.IntentCount())

	require.NoError(t, tm.Withdraw(intent))
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateWithdrawn))
	assert.Equal(t, 1, tm.installer.Uninstalled())
	assert.Empty(t, tm.GetInstallableIntents(intent.Key))

	require.NoError(t, tm.Purge(intent))
	g.Eventually(tm.IntentCount, time.Second).Should(Equal(0))
	assert.Equal(t, []api.IntentEventType{
		api.IntentEventInstallReq,
		api.IntentEventInstalled,
		api.IntentEventWithdrawReq,
		api.IntentEventWithdrawn,
		api.IntentEventPurged,
	}, tm.events.Types())
}

func TestWithdrawUninstalledIntent(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()

	intent := testutils.NewMockIntent("never-installed", 1)
	require.NoError(t, tm.Withdraw(intent))
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateWithdrawn))
	assert.Equal(t, 0, tm.installer.Calls())
}

func TestRecompileFailureRemovesOrphans(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()

	intent := testutils.NewMockIntent("orphaned", 1)
	require.NoError(t, tm.Submit(intent))
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateInstalled))

	tm.compiler.SetBroken(true)
	tm.TriggerCompile([]api.Key{intent.Key}, false)
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateFailed))
	assert.Equal(t, 1, tm.installer.Uninstalled())
	assert.Empty(t, tm.GetInstallableIntents(intent.Key))

	// a topology change that may have fixed things retries failed intents
	tm.compiler.SetBroken(false)
	tm.TriggerCompile(nil, true)
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateInstalled))
}

func TestResubmitReplacesInstallables(t *testing.T) {
	g := NewGomegaWithT(t)
	tm := newTestManager(t)
	defer tm.stop()

	intent := testutils.NewMockIntent("updated", 1)
	require.NoError(t, tm.Submit(intent))
	g.Eventually(tm.state(intent.Key), time.Second).Should(Equal(api.IntentStateInstalled))

	updated := intent.Copy()
	updated.Spec = &testutils.MockSpec{Number: 2}
	require.NoError(t, tm.Submit(updated))
	g.Eventually(func() int {
		return tm.events.Count(api.IntentEventInstalled)
	}, time.Second).Should(Equal(2))

	installables := tm.GetInstallableIntents(intent.Key)
	require.Len(t, installables, 1)
	assert.Equal(t, 2, installables[0].Spec.(*testutils.MockInstallableSpec).Number)
	assert.Equal(t, 1, tm.installer.Uninstalled())
}

func TestSubmitRejectsInvalidIntent(t *testing.T) {
	tm := newTestManager(t)
	defer tm.stop()

	assert.Error(t, tm.Submit(nil))
	assert.Error(t, tm.Submit(&api.Intent{}))
	assert.Error(t, tm.AddPending(nil))
}

// captureManager runs a Manager whose installer only completes operations
// when the test says so.
type captureManager struct {
	*Manager
	events    *testutils.EventRecorder
	installer *captureInstaller
}

func newCaptureManager(t *testing.T, cfg *Config) *captureManager {
	s := store.NewMemoryStore(nil)
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.MaxIdle = time.Millisecond
	}
	cfg.SynchronousEvents = true

	m := New(s, nil, cfg)
	cm := &captureManager{
		Manager:   m,
		events:    testutils.NewEventRecorder(),
		installer: &captureInstaller{},
	}
	m.AddListener(cm.events)
	require.NoError(t, m.RegisterCompiler(testutils.TypeMock, &switchCompiler{}))
	require.NoError(t, m.RegisterInstaller(testutils.TypeMockInstallable, cm.installer))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, m.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Close()
	})
	return cm
}

func (cm *captureManager) state(key api.Key) func() api.IntentState {
	return func() api.IntentState {
		st, _ := cm.GetIntentState(key)
		return st
	}
}

func (cm *captureManager) context(i int) *OperationContext {
	return cm.installer.Contexts()[i]
}

func TestRepeatedSubmitWhileInstalling(t *testing.T) {
	g := NewGomegaWithT(t)
	cm := newCaptureManager(t, nil)

	intent := testutils.NewMockIntent("repeated", 1)
	require.NoError(t, cm.Submit(intent))
	g.Eventually(cm.installer.Contexts, time.Second).Should(HaveLen(1))

	require.NoError(t, cm.Submit(intent))
	require.NoError(t, cm.Submit(intent))
	g.Consistently(cm.installer.Contexts, 100*time.Millisecond).Should(HaveLen(1))
	assert.Equal(t, api.IntentStateInstalling, cm.state(intent.Key)())
	require.Len(t, cm.GetPending(), 1)
	latest := cm.GetPending()[0].Version

	cm.Coordinator().Success(cm.context(0))
	g.Eventually(cm.installer.Contexts, time.Second).Should(HaveLen(2))
	second := cm.context(1)
	assert.Equal(t, latest, second.ToInstall().Version)
	require.NotNil(t, second.ToUninstall())
	assert.Equal(t, api.IntentStateInstalled, second.ToUninstall().State)

	cm.Coordinator().Success(second)
	g.Eventually(cm.state(intent.Key), time.Second).Should(Equal(api.IntentStateInstalled))
	g.Consistently(cm.installer.Contexts, 50*time.Millisecond).Should(HaveLen(2))
	assert.Empty(t, cm.GetPending())
	assert.Equal(t, latest, cm.GetIntentData(intent.Key).Version)
	assert.False(t, cm.Coordinator().InFlight(intent.Key))
}

func TestWithdrawWhileInstalling(t *testing.T) {
	g := NewGomegaWithT(t)
	cm := newCaptureManager(t, nil)

	intent := testutils.NewMockIntent("cancelled", 1)
	require.NoError(t, cm.Submit(intent))
	g.Eventually(cm.installer.Contexts, time.Second).Should(HaveLen(1))

	require.NoError(t, cm.Withdraw(intent))
	g.Consistently(cm.installer.Contexts, 100*time.Millisecond).Should(HaveLen(1))
	assert.Equal(t, api.IntentStateInstalling, cm.state(intent.Key)())
	require.Len(t, cm.GetPending(), 1)
	assert.Equal(t, api.IntentStateWithdrawReq, cm.GetPending()[0].Request)

	cm.Coordinator().Success(cm.context(0))
	g.Eventually(cm.installer.Contexts, time.Second).Should(HaveLen(2))
	withdraw := cm.context(1)
	assert.Len(t, withdraw.IntentsToUninstall, 1)
	assert.Empty(t, withdraw.IntentsToInstall)
	assert.Nil(t, withdraw.ToInstall())

	cm.Coordinator().Success(withdraw)
	g.Eventually(cm.state(intent.Key), time.Second).Should(Equal(api.IntentStateWithdrawn))
	assert.Empty(t, cm.GetInstallableIntents(intent.Key))
	g.Eventually(cm.events.Types, time.Second).Should(Equal([]api.IntentEventType{
		api.IntentEventInstallReq,
		api.IntentEventWithdrawReq,
		api.IntentEventInstalled,
		api.IntentEventWithdrawn,
	}))
}

func TestStaleCompletionIsDropped(t *testing.T) {
	g := NewGomegaWithT(t)
	clk := fakeclock.NewFakeClock(time.Now())
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.MaxBatch = 1
	cfg.OperationTimeout = time.Minute
	cm := newCaptureManager(t, cfg)

	intent := testutils.NewMockIntent("stuck", 1)
	require.NoError(t, cm.Submit(intent))
	g.Eventually(cm.installer.Contexts, time.Second).Should(HaveLen(1))

	require.NoError(t, cm.Withdraw(intent))
	g.Consistently(cm.installer.Contexts, 100*time.Millisecond).Should(HaveLen(1))

	// the installer never answered; queue the held request again once the
	// installation timed out, as the cleanup poll does
	clk.Increment(2 * time.Minute)
	pending := cm.GetPending()
	require.Len(t, pending, 1)
	require.NoError(t, cm.AddPending(pending[0]))
	g.Eventually(cm.installer.Contexts, time.Second).Should(HaveLen(2))
	withdraw := cm.context(1)
	assert.Len(t, withdraw.IntentsToUninstall, 1)

	cm.Coordinator().Success(withdraw)
	g.Eventually(cm.state(intent.Key), time.Second).Should(Equal(api.IntentStateWithdrawn))

	// the original installation finally reports; the newer record wins
	cm.Coordinator().Success(cm.context(0))
	g.Consistently(cm.state(intent.Key), 50*time.Millisecond).Should(Equal(api.IntentStateWithdrawn))
	assert.Equal(t, 0, cm.events.Count(api.IntentEventInstalled))
	assert.False(t, cm.Coordinator().InFlight(intent.Key))
}
