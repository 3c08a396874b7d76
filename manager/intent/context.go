package intent

import (
	"sync"
	"time"

	"github.com/intentkit/intentkit/api"
)

// OperationContext is the share of one installation handed to a single
// installer: the installables of one type to remove and to add.
type OperationContext struct {
	IntentsToUninstall []*api.Intent
	IntentsToInstall   []*api.Intent

	installation *installationContext
}

// ToUninstall returns the record whose installables are being removed, or
// nil.
func (c *OperationContext) ToUninstall() *api.IntentData {
	return c.installation.toUninstall
}

// ToInstall returns the record whose installables are being added, or nil.
func (c *OperationContext) ToInstall() *api.IntentData {
	return c.installation.toInstall
}

// Key returns the key of the intent being installed or withdrawn.
func (c *OperationContext) Key() api.Key {
	return c.installation.key()
}

// installationContext is shared by the operation contexts created for one
// InstallIntents call. It completes once every context was reported.
type installationContext struct {
	toUninstall *api.IntentData
	toInstall   *api.IntentData
	started     time.Time

	mu      sync.Mutex
	pending map[*OperationContext]struct{}
	errored map[*OperationContext]struct{}
	done    bool
}

func newInstallationContext(toUninstall, toInstall *api.IntentData, started time.Time) *installationContext {
	return &installationContext{
		toUninstall: toUninstall,
		toInstall:   toInstall,
		started:     started,
		pending:     make(map[*OperationContext]struct{}),
		errored:     make(map[*OperationContext]struct{}),
	}
}

func (ic *installationContext) key() api.Key {
	if ic.toInstall != nil {
		return ic.toInstall.Key()
	}
	return ic.toUninstall.Key()
}

func (ic *installationContext) add(ctx *OperationContext) {
	ic.mu.Lock()
	ic.pending[ctx] = struct{}{}
	ic.mu.Unlock()
}

// complete records the outcome of ctx. It returns true exactly once, when the
// last pending context completes, together with whether any context failed.
// Reports for unknown or already completed contexts are ignored.
func (ic *installationContext) complete(ctx *OperationContext, failed bool) (finished, errored bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	if ic.done {
		return false, false
	}
	if _, ok := ic.pending[ctx]; !ok {
		return false, false
	}
	delete(ic.pending, ctx)
	if failed {
		ic.errored[ctx] = struct{}{}
	}
	if len(ic.pending) > 0 {
		return false, false
	}
	ic.done = true
	return true, len(ic.errored) > 0
}

// abort marks the installation as finished before any context completed.
func (ic *installationContext) abort() bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.done {
		return false
	}
	ic.done = true
	return true
}
