package manager

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"code.cloudfoundry.org/clock"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/drivers"
	"github.com/intentkit/intentkit/manager/event"
	"github.com/intentkit/intentkit/manager/intent"
	"github.com/intentkit/intentkit/manager/intent/cleanup"
	"github.com/intentkit/intentkit/manager/intent/compiler"
	"github.com/intentkit/intentkit/manager/intent/installer"
	"github.com/intentkit/intentkit/manager/intent/objtracker"
	"github.com/intentkit/intentkit/manager/metrics"
	"github.com/intentkit/intentkit/manager/state/persist"
	"github.com/intentkit/intentkit/manager/state/store"
	"github.com/intentkit/intentkit/manager/topology"
	"github.com/intentkit/intentkit/watch"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DBFile is the name of the intent database in the state directory.
const DBFile = "intents.db"

// Config is used to tune the Manager.
type Config struct {
	// Top-level state directory. Nothing is persisted when it is empty.
	StateDir string

	// MetricsAddr is the address Prometheus metrics are served on. Empty
	// disables the endpoint.
	MetricsAddr string

	Intent  intent.Config
	Cleanup cleanup.Config
	Driver  drivers.Config
}

// Manager is the intent manager process.
// This is the high-level object holding and initializing all the manager
// subsystems.
type Manager struct {
	config *Config

	topoQueue   *watch.Queue
	store       *store.MemoryStore
	db          *persist.DB
	snapshotter *persist.Snapshotter
	topology    *topology.Topology
	tracker     *objtracker.Tracker
	intents     *intent.Manager
	cleanup     *cleanup.Cleanup
	collector   *metrics.Collector
	driver      drivers.FlowRuleDriver
	closers     []io.Closer
	closeOnce   sync.Once

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// New creates a Manager which has not started processing intents yet.
// Records persisted in the state directory are restored into the store.
func New(ctx context.Context, config *Config) (*Manager, error) {
	m := &Manager{
		config:    config,
		topoQueue: watch.NewQueue(),
		store:     store.NewMemoryStore(api.NewClock(clock.NewClock())),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}

	if err := m.init(ctx); err != nil {
		m.close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) init(ctx context.Context) error {
	if m.config.StateDir != "" {
		if err := os.MkdirAll(m.config.StateDir, 0700); err != nil {
			return errors.Wrap(err, "failed to create state directory")
		}
		db, err := persist.Open(filepath.Join(m.config.StateDir, DBFile))
		if err != nil {
			return err
		}
		m.db = db
		m.closers = append(m.closers, db)

		records, err := db.Load()
		if err != nil {
			return err
		}
		if err := m.store.Restore(records); err != nil {
			return errors.Wrap(err, "failed to restore intents")
		}
		log.G(ctx).WithField("intents", len(records)).Info("restored intents")
		m.snapshotter = persist.NewSnapshotter(db, m.store)
	}

	driver, closer, err := drivers.New(m.config.Driver).NewFlowRuleDriver(ctx)
	if err != nil {
		return err
	}
	m.driver = driver
	m.closers = append(m.closers, closer)

	m.topology = topology.New(m.topoQueue)
	m.tracker = objtracker.New(m.topoQueue)

	intentConfig := m.config.Intent
	m.intents = intent.New(m.store, m.tracker, &intentConfig)
	if err := compiler.RegisterAll(m.intents.RegisterCompiler, m.topology); err != nil {
		return err
	}
	if err := m.intents.RegisterInstaller(api.IntentTypeFlowRule,
		installer.NewFlowRuleInstaller(ctx, m.driver, m.intents.Coordinator())); err != nil {
		return err
	}

	cleanupConfig := m.config.Cleanup
	m.cleanup = cleanup.New(m.intents, m.store, clock.NewClock(), &cleanupConfig)
	m.collector = metrics.NewCollector(m.store)
	return nil
}

// Topology returns the network graph intents are compiled against.
func (m *Manager) Topology() *topology.Topology {
	return m.topology
}

// Intents returns the intent manager.
func (m *Manager) Intents() *intent.Manager {
	return m.intents
}

// FlowRules returns the flow rule driver installables are written to.
func (m *Manager) FlowRules() drivers.FlowRuleDriver {
	return m.driver
}

// Run starts all manager sub-systems.
// The call never returns unless ctx is cancelled or `Stop()` is called.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	m.mu.Unlock()
	defer close(m.doneChan)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	goRun := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && err != context.Canceled {
				log.G(ctx).WithError(err).Errorf("%s exited with an error", name)
			}
		}()
	}

	cancelListener := m.intents.AddListener(event.ListenerFunc(func(ev api.IntentEvent) {
		log.G(ctx).WithFields(logrus.Fields{
			"intent.key":     ev.Subject.Key().String(),
			"intent.version": ev.Subject.Version.String(),
		}).Infof("intent %s", ev.Type)
	}))
	defer cancelListener()

	if m.snapshotter != nil {
		goRun("snapshotter", m.snapshotter.Run)
	}
	goRun("metrics collector", m.collector.Run)
	goRun("objective tracker", func(ctx context.Context) error {
		m.tracker.Run(ctx)
		return nil
	})
	goRun("intent manager", m.intents.Run)
	m.cleanup.Activate(ctx)

	var server *http.Server
	if m.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: m.config.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.G(ctx).WithError(err).Error("metrics server failed")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-m.stopChan:
	}

	if server != nil {
		server.Close()
	}
	m.cleanup.Deactivate()
	m.intents.Stop()
	m.tracker.Stop()
	m.collector.Stop()
	if m.snapshotter != nil {
		m.snapshotter.Stop()
	}
	wg.Wait()
	m.close()
	return nil
}

// Stop stops the manager and waits for its sub-systems to shut down.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.doneChan
	} else {
		m.close()
	}
}

func (m *Manager) close() {
	m.closeOnce.Do(func() {
		m.topoQueue.Close()
		m.store.Close()
		for i := len(m.closers) - 1; i >= 0; i-- {
			if err := m.closers[i].Close(); err != nil {
				log.L.WithError(err).Warn("failed to close")
			}
		}
	})
}
