// Package intent drives intents through their lifecycle: requests are
// queued in the store, compiled into installables and handed to installers
// through the InstallCoordinator.
package intent

import (
	"context"
	"sync"

	metrics "github.com/docker/go-metrics"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/event"
	"github.com/intentkit/intentkit/manager/intent/objtracker"
	"github.com/intentkit/intentkit/manager/state"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ObjectiveTracker tracks the resources of installed intents and asks for
// recompilation when the topology changes.
type ObjectiveTracker interface {
	ResourceTracker
	SetDelegate(d objtracker.TopologyChangeDelegate) error
	UnsetDelegate(d objtracker.TopologyChangeDelegate)
}

// Manager is the intent service. It accepts requests, processes them in
// batches and relays store events to listeners.
type Manager struct {
	store       state.IntentStore
	tracker     ObjectiveTracker
	config      *Config
	compilers   *CompilerRegistry
	installers  *InstallerRegistry
	coordinator *InstallCoordinator
	listeners   *event.ListenerRegistry
	dispatcher  event.Dispatcher
	accumulator *accumulator
	delegate    *storeDelegate

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// New creates a Manager on top of store. tracker may be nil, in which case
// resources are not tracked and topology changes are not followed.
func New(store state.IntentStore, tracker ObjectiveTracker, cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()

	listeners := event.NewListenerRegistry()
	var dispatcher event.Dispatcher
	if cfg.SynchronousEvents {
		dispatcher = event.NewSyncDispatcher(listeners)
	} else {
		dispatcher = event.NewAsyncDispatcher(listeners)
	}

	m := &Manager{
		store:      store,
		tracker:    tracker,
		config:     cfg,
		compilers:  NewCompilerRegistry(),
		installers: NewInstallerRegistry(),
		listeners:  listeners,
		dispatcher: dispatcher,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
	var resources ResourceTracker
	if tracker != nil {
		resources = tracker
	}
	m.coordinator = NewInstallCoordinator(m.installers, store, resources, cfg.Clock)
	m.coordinator.timeout = cfg.OperationTimeout
	m.coordinator.idle = m.resume
	m.accumulator = newAccumulator(cfg, m.processBatch)
	m.delegate = &storeDelegate{m: m}
	return m
}

// Coordinator returns the coordinator installers report to.
func (m *Manager) Coordinator() *InstallCoordinator {
	return m.coordinator
}

// RegisterCompiler registers the compiler for intents of type t.
func (m *Manager) RegisterCompiler(t api.IntentType, c Compiler) error {
	return m.compilers.Register(t, c)
}

// UnregisterCompiler removes the compiler of t.
func (m *Manager) UnregisterCompiler(t api.IntentType) {
	m.compilers.Unregister(t)
}

// Compilers returns the registered compilers.
func (m *Manager) Compilers() map[api.IntentType]Compiler {
	return m.compilers.Compilers()
}

// RegisterInstaller registers the installer for installables of type t.
func (m *Manager) RegisterInstaller(t api.IntentType, installer Installer) error {
	return m.installers.Register(t, installer)
}

// UnregisterInstaller removes the installer of t.
func (m *Manager) UnregisterInstaller(t api.IntentType) {
	m.installers.Unregister(t)
}

// AddListener registers a listener for intent events. The returned function
// removes it.
func (m *Manager) AddListener(l event.Listener) (cancel func()) {
	return m.listeners.AddListener(l)
}

// Submit requests installation of intent.
func (m *Manager) Submit(intent *api.Intent) error {
	return m.request(api.Submit, intent)
}

// Withdraw requests withdrawal of intent.
func (m *Manager) Withdraw(intent *api.Intent) error {
	return m.request(api.Withdraw, intent)
}

// Purge requests removal of the record of intent. Only withdrawn and failed
// intents can be purged.
func (m *Manager) Purge(intent *api.Intent) error {
	return m.request(api.Purge, intent)
}

func (m *Manager) request(newRequest func(*api.Intent) *api.IntentData, intent *api.Intent) error {
	if intent == nil || intent.Key.Name == "" {
		return errInvalidIntent
	}
	data := newRequest(intent.Copy())
	if err := m.store.AddPending(data); err != nil {
		return errors.Wrapf(err, "queueing %s for intent %s", data.Request, data.Key())
	}
	requestsCounter.WithValues(data.Request.String()).Inc()
	return nil
}

// AddPending queues an existing request record again, keeping its version.
func (m *Manager) AddPending(data *api.IntentData) error {
	if data == nil || data.Intent == nil {
		return errInvalidIntent
	}
	return m.store.AddPending(data)
}

// TriggerCompile resubmits the intents of keys. When compileAllFailed is set,
// every failed intent and every queued request is resubmitted as well.
func (m *Manager) TriggerCompile(keys []api.Key, compileAllFailed bool) {
	handled := make(map[api.Key]struct{})
	for _, key := range keys {
		data := m.store.GetIntentData(key)
		if data == nil {
			continue
		}
		handled[key] = struct{}{}
		m.resubmit(data)
	}

	if !compileAllFailed {
		return
	}
	candidates := append(m.store.GetIntentDataAll(), m.store.GetPendingDataAll()...)
	for _, data := range candidates {
		if _, ok := handled[data.Key()]; ok {
			continue
		}
		switch data.State {
		case api.IntentStateFailed, api.IntentStateInstallReq, api.IntentStateWithdrawReq:
			handled[data.Key()] = struct{}{}
			m.resubmit(data)
		}
	}
}

func (m *Manager) resubmit(data *api.IntentData) {
	var err error
	switch data.Request {
	case api.IntentStateWithdrawReq:
		err = m.Withdraw(data.Intent)
	case api.IntentStatePurgeReq:
		return
	default:
		err = m.Submit(data.Intent)
	}
	if err != nil {
		log.L.WithError(err).WithField("intent.key", data.Key().String()).Error("failed to resubmit intent")
	}
}

// GetIntents returns every intent with a current record.
func (m *Manager) GetIntents() []*api.Intent {
	return m.store.GetIntents()
}

// GetIntentData returns the current record of key, or nil.
func (m *Manager) GetIntentData(key api.Key) *api.IntentData {
	return m.store.GetIntentData(key)
}

// GetIntentState returns the current state of key.
func (m *Manager) GetIntentState(key api.Key) (api.IntentState, bool) {
	return m.store.GetIntentState(key)
}

// GetInstallableIntents returns the installables of key.
func (m *Manager) GetInstallableIntents(key api.Key) []*api.Intent {
	return m.store.GetInstallableIntents(key)
}

// IntentCount returns the number of intents with a current record.
func (m *Manager) IntentCount() int {
	return m.store.IntentCount()
}

// GetPending returns the queued requests.
func (m *Manager) GetPending() []*api.IntentData {
	return m.store.GetPendingDataAll()
}

// Run starts processing requests and blocks until ctx is cancelled or Stop
// is called. Requests already queued in the store are processed first.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("intent manager already started")
	}
	m.started = true
	m.mu.Unlock()
	defer close(m.doneChan)

	ctx = log.WithModule(ctx, "intent")
	logger := log.G(ctx)

	if err := m.store.SetDelegate(m.delegate); err != nil {
		return errors.Wrap(err, "registering intent manager with the store")
	}
	defer m.store.UnsetDelegate(m.delegate)

	if m.tracker != nil {
		if err := m.tracker.SetDelegate(m); err != nil {
			return errors.Wrap(err, "registering intent manager with the objective tracker")
		}
		defer m.tracker.UnsetDelegate(m)
	}

	go m.accumulator.run()
	for _, pending := range m.store.GetPendingDataAll() {
		m.accumulator.add(pending)
	}
	logger.WithField("intents", m.store.IntentCount()).Info("intent manager started")

	select {
	case <-ctx.Done():
	case <-m.stopChan:
	}

	m.accumulator.stop()
	if err := m.dispatcher.Close(); err != nil {
		logger.WithError(err).Warn("failed to close event dispatcher")
	}
	logger.Info("intent manager stopped")
	return nil
}

// Stop stops a running manager and waits for it to finish the batch in
// progress.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.doneChan
	}
}

func (m *Manager) processBatch(batch []*api.IntentData) {
	defer metrics.StartTimer(batchLatencyTimer)()

	results := make([]phaseResult, len(batch))
	sem := make(chan struct{}, m.config.Workers)
	var wg sync.WaitGroup
	for i, data := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, data *api.IntentData) {
			defer func() {
				<-sem
				wg.Done()
			}()
			results[i] = m.processRequest(data)
		}(i, data)
	}
	wg.Wait()

	writes := make([]*api.IntentData, 0, len(results))
	for _, result := range results {
		if result.record != nil {
			writes = append(writes, result.record)
		}
		if drop := result.dropPending; drop != nil {
			if err := m.store.RemovePending(drop.Key(), drop.Version); err != nil {
				log.L.WithError(err).WithField("intent.key", drop.Key().String()).Error("failed to drop intent request")
			}
		}
	}
	if len(writes) > 0 {
		if err := m.store.BatchWrite(writes); err != nil {
			log.L.WithError(err).Error("failed to write intent batch")
			return
		}
	}

	for _, result := range results {
		if !result.install {
			continue
		}
		// a newer request may have overtaken this one while the batch
		// was compiled
		key := result.record.Key()
		current := m.store.GetIntentData(key)
		if current == nil || current.Version != result.record.Version {
			log.L.WithFields(logrus.Fields{
				"intent.key":     key.String(),
				"intent.version": result.record.Version.String(),
			}).Debug("skipping installation of superseded intent")
			continue
		}
		m.coordinator.InstallIntents(result.toUninstall, result.toInstall)
	}
}

// resume queues the pending request of key again after it was held back by
// an installation in flight.
func (m *Manager) resume(key api.Key) {
	if pending := m.store.GetPendingData(key); pending != nil {
		m.accumulator.add(pending)
	}
}

// storeDelegate receives store callbacks for a Manager.
type storeDelegate struct {
	m *Manager
}

func (d *storeDelegate) Process(data *api.IntentData) {
	d.m.accumulator.add(data)
}

func (d *storeDelegate) Notify(ev api.IntentEvent) {
	eventsCounter.WithValues(ev.Type.String()).Inc()
	d.m.dispatcher.Post(ev)
}
