package intent

import (
	"sort"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/state"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// IntentWriter is the part of the intent store the coordinator writes
// outcomes to.
type IntentWriter interface {
	Write(data *api.IntentData) error
}

// ResourceTracker keeps track of the network resources installed intents
// depend on.
type ResourceTracker interface {
	AddTrackedResources(key api.Key, resources []api.NetworkResource)
	RemoveTrackedResources(key api.Key, resources []api.NetworkResource)
}

// InstallCoordinator splits an installation into per-installer operations,
// hands them to the installers and writes the outcome once all of them
// reported back. It keeps at most one installation per intent key in flight.
type InstallCoordinator struct {
	registry *InstallerRegistry
	store    IntentWriter
	tracker  ResourceTracker
	clock    clock.Clock

	// timeout is how long an installation keeps its key busy. Zero means
	// forever.
	timeout time.Duration
	// idle is called with a key once its installation finished and a
	// request was held back while it ran.
	idle func(key api.Key)

	mu       sync.Mutex
	inflight map[api.Key]*inflightInstallation
}

type inflightInstallation struct {
	installation *installationContext
	held         bool
}

// NewInstallCoordinator returns a coordinator resolving installers from
// registry. tracker may be nil. clk times installations and defaults to the
// real clock.
func NewInstallCoordinator(registry *InstallerRegistry, store IntentWriter, tracker ResourceTracker, clk clock.Clock) *InstallCoordinator {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &InstallCoordinator{
		registry: registry,
		store:    store,
		tracker:  tracker,
		clock:    clk,
		inflight: make(map[api.Key]*inflightInstallation),
	}
}

// InFlight reports whether an installation of key is outstanding.
func (c *InstallCoordinator) InFlight(key api.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

// hold reports whether key has an installation in flight. If so, the idle
// callback is called for key when that installation finishes. Installations
// older than the timeout no longer hold their key.
func (c *InstallCoordinator) hold(key api.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, ok := c.inflight[key]
	if !ok {
		return false
	}
	if c.timeout > 0 && c.clock.Since(op.installation.started) >= c.timeout {
		log.L.WithFields(installationFields(op.installation)).Warn("intent installation timed out")
		delete(c.inflight, key)
		return false
	}
	op.held = true
	return true
}

func (c *InstallCoordinator) begin(installation *installationContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[installation.key()] = &inflightInstallation{installation: installation}
}

func (c *InstallCoordinator) end(installation *installationContext) {
	key := installation.key()

	c.mu.Lock()
	op, ok := c.inflight[key]
	if !ok || op.installation != installation {
		// timed out and replaced by a newer installation
		c.mu.Unlock()
		return
	}
	delete(c.inflight, key)
	c.mu.Unlock()

	if op.held && c.idle != nil {
		c.idle(key)
	}
}

// InstallIntents removes the installables of toUninstall and adds those of
// toInstall. Either may be nil; when both are, nothing happens. The call
// returns once every installer accepted its operation; the outcome is written
// to the store when the last installer reported.
func (c *InstallCoordinator) InstallIntents(toUninstall, toInstall *api.IntentData) {
	if toUninstall == nil && toInstall == nil {
		return
	}

	installation := newInstallationContext(toUninstall, toInstall, c.clock.Now())
	logger := log.L.WithFields(installationFields(installation))
	c.begin(installation)

	var uninstallByType, installByType map[api.IntentType][]*api.Intent
	if toUninstall != nil {
		uninstallByType = groupByType(toUninstall.Installables)
	}
	if toInstall != nil {
		installByType = groupByType(toInstall.Installables)
	}

	types := make([]api.IntentType, 0, len(uninstallByType)+len(installByType))
	for t := range uninstallByType {
		types = append(types, t)
	}
	for t := range installByType {
		if _, ok := uninstallByType[t]; !ok {
			types = append(types, t)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var (
		contexts   []*OperationContext
		installers []Installer
	)
	for _, t := range types {
		installer, err := c.registry.Installer(t)
		if err != nil {
			logger.WithError(err).Error("cannot install intent")
			if installation.abort() {
				c.finish(installation, true)
			}
			return
		}
		contexts = append(contexts, &OperationContext{
			IntentsToUninstall: uninstallByType[t],
			IntentsToInstall:   installByType[t],
			installation:       installation,
		})
		installers = append(installers, installer)
	}

	if len(contexts) == 0 {
		if installation.abort() {
			c.finish(installation, false)
		}
		return
	}

	// every context must be pending before the first installer can
	// complete
	for _, ctx := range contexts {
		installation.add(ctx)
	}
	for i, ctx := range contexts {
		installers[i].Apply(ctx)
	}
}

// Success reports that the installer of ctx completed its operation.
func (c *InstallCoordinator) Success(ctx *OperationContext) {
	c.complete(ctx, false)
}

// Failed reports that the installer of ctx could not complete its
// operation.
func (c *InstallCoordinator) Failed(ctx *OperationContext) {
	c.complete(ctx, true)
}

func (c *InstallCoordinator) complete(ctx *OperationContext, failed bool) {
	if ctx == nil || ctx.installation == nil {
		return
	}
	finished, errored := ctx.installation.complete(ctx, failed)
	if finished {
		c.finish(ctx.installation, errored)
	}
}

func (c *InstallCoordinator) finish(installation *installationContext, failed bool) {
	defer c.end(installation)
	installLatencyTimer.Update(c.clock.Since(installation.started))

	toUninstall, toInstall := installation.toUninstall, installation.toInstall
	logger := log.L.WithFields(installationFields(installation))

	var record *api.IntentData
	switch {
	case failed && toUninstall != nil && toInstall != nil:
		// the operation is reported against what was there before, at
		// the version of the request that failed
		record = api.Corrupt(toInstall)
		record.Intent = toUninstall.Intent.Copy()
		record.Installables = api.CopyIntents(toUninstall.Installables)
	case failed && toUninstall != nil:
		record = api.Corrupt(toUninstall)
	case failed:
		record = api.Corrupt(toInstall)
	case toInstall != nil:
		record = api.NextState(toInstall, api.IntentStateInstalled)
		record.ErrorCount = 0
	default:
		next := api.IntentStateWithdrawn
		if toUninstall.Request == api.IntentStateInstallReq {
			// orphaned installables of an intent that no longer compiles
			next = api.IntentStateFailed
		}
		record = api.NextState(toUninstall, next)
		record.Installables = nil
	}
	record.Origin = nil

	if failed {
		logger.WithField("intent.errors", record.ErrorCount).Warn("intent installation failed")
	} else {
		logger.WithField("intent.state", record.State.String()).Debug("intent installation finished")
	}

	if err := c.store.Write(record); err != nil {
		if errors.Cause(err) == state.ErrStaleWrite {
			// a newer record owns the intent and its tracked
			// resources
			logger.Debug("installation result superseded")
			return
		}
		logger.WithError(err).Error("failed to write installation result")
		return
	}

	if failed || c.tracker == nil {
		return
	}
	key := record.Key()
	if toUninstall != nil {
		c.tracker.RemoveTrackedResources(key, resourcesOf(toUninstall.Installables))
	}
	if toInstall != nil {
		c.tracker.AddTrackedResources(key, resourcesOf(toInstall.Installables))
	}
}

func installationFields(installation *installationContext) logrus.Fields {
	fields := logrus.Fields{}
	if installation.toInstall != nil {
		fields["intent.key"] = installation.toInstall.Key().String()
		fields["intent.version"] = installation.toInstall.Version.String()
	} else if installation.toUninstall != nil {
		fields["intent.key"] = installation.toUninstall.Key().String()
		fields["intent.version"] = installation.toUninstall.Version.String()
	}
	return fields
}

func groupByType(intents []*api.Intent) map[api.IntentType][]*api.Intent {
	groups := make(map[api.IntentType][]*api.Intent)
	for _, intent := range intents {
		t := intent.Type()
		groups[t] = append(groups[t], intent)
	}
	return groups
}

func resourcesOf(intents []*api.Intent) []api.NetworkResource {
	var resources []api.NetworkResource
	for _, intent := range intents {
		resources = append(resources, intent.Resources...)
	}
	return resources
}
