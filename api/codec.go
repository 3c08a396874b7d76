package api

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

var (
	specMu        sync.RWMutex
	specFactories = map[IntentType]func() IntentSpec{
		IntentTypePointToPoint:   func() IntentSpec { return &PointToPointSpec{} },
		IntentTypePath:           func() IntentSpec { return &PathSpec{} },
		IntentTypeLinkCollection: func() IntentSpec { return &LinkCollectionSpec{} },
		IntentTypeFlowRule:       func() IntentSpec { return &FlowRuleSpec{} },
	}
)

// RegisterSpecFactory makes a spec variant decodable. factory must return a
// pointer to a zero value of the variant.
func RegisterSpecFactory(t IntentType, factory func() IntentSpec) {
	specMu.Lock()
	specFactories[t] = factory
	specMu.Unlock()
}

func newSpec(t IntentType) (IntentSpec, error) {
	specMu.RLock()
	factory, ok := specFactories[t]
	specMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIntentType, "no decoder for intent type %s", t)
	}
	return factory(), nil
}

const (
	resourceKindDevice = "device"
	resourceKindPort   = "port"
	resourceKindLink   = "link"
)

type wireResource struct {
	Kind   string        `json:"kind"`
	Device DeviceID      `json:"device,omitempty"`
	Point  *ConnectPoint `json:"point,omitempty"`
	Link   *Link         `json:"link,omitempty"`
}

type wireIntent struct {
	ID        string          `json:"id"`
	Key       Key             `json:"key"`
	Priority  int             `json:"priority"`
	Resources []wireResource  `json:"resources,omitempty"`
	Type      IntentType      `json:"type"`
	Spec      json.RawMessage `json:"spec"`
}

// MarshalJSON encodes the intent with its variant tag so it can be decoded
// back into the right spec type.
func (i *Intent) MarshalJSON() ([]byte, error) {
	w := wireIntent{
		ID:       i.ID,
		Key:      i.Key,
		Priority: i.Priority,
		Type:     i.Type(),
	}
	for _, r := range i.Resources {
		switch v := r.(type) {
		case DeviceID:
			w.Resources = append(w.Resources, wireResource{Kind: resourceKindDevice, Device: v})
		case ConnectPoint:
			cp := v
			w.Resources = append(w.Resources, wireResource{Kind: resourceKindPort, Point: &cp})
		case Link:
			l := v
			w.Resources = append(w.Resources, wireResource{Kind: resourceKindLink, Link: &l})
		default:
			return nil, errors.Errorf("cannot encode resource %T", r)
		}
	}
	if i.Spec != nil {
		spec, err := json.Marshal(i.Spec)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding spec of intent %s", i.Key)
		}
		w.Spec = spec
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Intent) UnmarshalJSON(data []byte) error {
	var w wireIntent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Intent{ID: w.ID, Key: w.Key, Priority: w.Priority}
	for _, r := range w.Resources {
		switch {
		case r.Kind == resourceKindDevice:
			out.Resources = append(out.Resources, r.Device)
		case r.Kind == resourceKindPort && r.Point != nil:
			out.Resources = append(out.Resources, *r.Point)
		case r.Kind == resourceKindLink && r.Link != nil:
			out.Resources = append(out.Resources, *r.Link)
		default:
			return errors.Errorf("cannot decode resource of kind %q", r.Kind)
		}
	}
	if w.Type != "" {
		spec, err := newSpec(w.Type)
		if err != nil {
			return err
		}
		if len(w.Spec) != 0 {
			if err := json.Unmarshal(w.Spec, spec); err != nil {
				return errors.Wrapf(err, "decoding spec of intent %s", w.Key)
			}
		}
		out.Spec = spec
	}
	*i = out
	return nil
}
