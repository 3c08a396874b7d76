package intent

import (
	"sync"

	"github.com/intentkit/intentkit/api"
	"github.com/pkg/errors"
)

// Installer pushes installable intents to devices. Apply must not block on
// device programming: the outcome is reported later through the
// coordinator's Success or Failed method, exactly once per context.
type Installer interface {
	Apply(ctx *OperationContext)
}

// InstallerFunc adapts a function to the Installer interface.
type InstallerFunc func(ctx *OperationContext)

// Apply calls f(ctx).
func (f InstallerFunc) Apply(ctx *OperationContext) {
	f(ctx)
}

// InstallerRegistry maps installable types to installers.
type InstallerRegistry struct {
	mu         sync.RWMutex
	installers map[api.IntentType]Installer
}

// NewInstallerRegistry returns an empty registry.
func NewInstallerRegistry() *InstallerRegistry {
	return &InstallerRegistry{
		installers: make(map[api.IntentType]Installer),
	}
}

// Register associates installer with t. Only one installer may be registered
// per type.
func (r *InstallerRegistry) Register(t api.IntentType, installer Installer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.installers[t]; ok {
		return errors.Wrapf(ErrInstallerRegistered, "intent type %s", t)
	}
	r.installers[t] = installer
	return nil
}

// Unregister removes the installer of t.
func (r *InstallerRegistry) Unregister(t api.IntentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.installers, t)
}

// Installer returns the installer for t, walking up the type hierarchy.
func (r *InstallerRegistry) Installer(t api.IntentType) (Installer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, candidate := range t.Lineage() {
		if installer, ok := r.installers[candidate]; ok {
			return installer, nil
		}
	}
	return nil, errors.Wrapf(ErrNoInstaller, "intent type %s", t)
}

// Installers returns a snapshot of the registered installers.
func (r *InstallerRegistry) Installers() map[api.IntentType]Installer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[api.IntentType]Installer, len(r.installers))
	for t, installer := range r.installers {
		out[t] = installer
	}
	return out
}
