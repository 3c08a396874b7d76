package api

import (
	"sync"

	"github.com/intentkit/intentkit/identity"
	"github.com/pkg/errors"
)

// IntentType tags a variant of intent. Types form a tree: a type without a
// registered compiler or installer falls back to the one of its parent.
type IntentType string

// Built-in intent types.
const (
	IntentTypeConnectivity   IntentType = "connectivity"
	IntentTypePointToPoint   IntentType = "point-to-point"
	IntentTypeLinkCollection IntentType = "link-collection"
	IntentTypePath           IntentType = "path"
	IntentTypeFlowRule       IntentType = "flow-rule"
)

var (
	// ErrIntentTypeExists is returned when registering a type twice.
	ErrIntentTypeExists = errors.New("intent type already registered")
	// ErrUnknownIntentType is returned when a parent type is not registered.
	ErrUnknownIntentType = errors.New("unknown intent type")

	typesMu sync.RWMutex
	// typeParents maps every known type to its parent. Root types map to
	// the empty type.
	typeParents = map[IntentType]IntentType{
		IntentTypeConnectivity:   "",
		IntentTypePointToPoint:   IntentTypeConnectivity,
		IntentTypeLinkCollection: IntentTypeConnectivity,
		IntentTypePath:           IntentTypeConnectivity,
		IntentTypeFlowRule:       "",
	}
)

// RegisterIntentType adds t to the type tree below parent. An empty parent
// makes t a root type. The parent must already be registered, which keeps
// the tree free of cycles.
func RegisterIntentType(t, parent IntentType) error {
	typesMu.Lock()
	defer typesMu.Unlock()

	if t == "" {
		return errors.Wrap(ErrUnknownIntentType, "empty intent type")
	}
	if _, ok := typeParents[t]; ok {
		return errors.Wrapf(ErrIntentTypeExists, "intent type %s", t)
	}
	if parent != "" {
		if _, ok := typeParents[parent]; !ok {
			return errors.Wrapf(ErrUnknownIntentType, "parent %s of intent type %s", parent, t)
		}
	}
	typeParents[t] = parent
	return nil
}

// Parent returns the parent of t, if any.
func (t IntentType) Parent() (IntentType, bool) {
	typesMu.RLock()
	defer typesMu.RUnlock()
	parent, ok := typeParents[t]
	if !ok || parent == "" {
		return "", false
	}
	return parent, true
}

// Lineage returns t followed by its ancestors, closest first.
func (t IntentType) Lineage() []IntentType {
	lineage := []IntentType{t}
	for cur := t; ; {
		parent, ok := cur.Parent()
		if !ok {
			return lineage
		}
		lineage = append(lineage, parent)
		cur = parent
	}
}

// IntentSpec is the variant specific part of an intent.
type IntentSpec interface {
	// Type returns the variant tag.
	Type() IntentType
	// Installable reports whether the variant can be handed to an
	// installer without further compilation.
	Installable() bool
	// CopySpec returns a deep copy.
	CopySpec() IntentSpec
}

// Intent is an immutable declarative request for network behavior.
type Intent struct {
	ID        string
	Key       Key
	Priority  int
	Resources []NetworkResource
	Spec      IntentSpec
}

// NewIntent returns an intent with a fresh ID. If key has no name, the ID
// is used as the name.
func NewIntent(key Key, priority int, spec IntentSpec, resources ...NetworkResource) *Intent {
	id := identity.NewID()
	if key.Name == "" {
		key.Name = id
	}
	return &Intent{
		ID:        id,
		Key:       key,
		Priority:  priority,
		Resources: resources,
		Spec:      spec,
	}
}

// AppID returns the application owning the intent.
func (i *Intent) AppID() string {
	return i.Key.AppID
}

// Type returns the variant tag of the intent.
func (i *Intent) Type() IntentType {
	if i.Spec == nil {
		return ""
	}
	return i.Spec.Type()
}

// Installable reports whether the intent can be installed as is.
func (i *Intent) Installable() bool {
	return i.Spec != nil && i.Spec.Installable()
}

// Copy returns a deep copy of the intent.
func (i *Intent) Copy() *Intent {
	if i == nil {
		return nil
	}
	out := *i
	out.Resources = CopyResources(i.Resources)
	if i.Spec != nil {
		out.Spec = i.Spec.CopySpec()
	}
	return &out
}

// CopyIntents deep copies a list of intents.
func CopyIntents(intents []*Intent) []*Intent {
	if intents == nil {
		return nil
	}
	out := make([]*Intent, len(intents))
	for i, intent := range intents {
		out[i] = intent.Copy()
	}
	return out
}
