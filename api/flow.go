package api

import (
	"sort"
	"strconv"
	"strings"

	"github.com/intentkit/intentkit/identity"
)

// TrafficSelector describes the traffic a flow rule matches.
type TrafficSelector struct {
	// InPort restricts the rule to traffic entering on this port. Zero
	// matches any port.
	InPort PortNumber `json:"in_port,omitempty"`
	// Criteria are additional header matches, such as "eth_type": "0x0800".
	Criteria map[string]string `json:"criteria,omitempty"`
}

// Copy returns a deep copy of the selector.
func (s TrafficSelector) Copy() TrafficSelector {
	out := TrafficSelector{InPort: s.InPort}
	if s.Criteria != nil {
		out.Criteria = make(map[string]string, len(s.Criteria))
		for k, v := range s.Criteria {
			out.Criteria[k] = v
		}
	}
	return out
}

// WithInPort returns a copy of the selector matching on port.
func (s TrafficSelector) WithInPort(port PortNumber) TrafficSelector {
	out := s.Copy()
	out.InPort = port
	return out
}

func (s TrafficSelector) String() string {
	parts := []string{"in_port=" + s.InPort.String()}
	keys := make([]string, 0, len(s.Criteria))
	for k := range s.Criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+s.Criteria[k])
	}
	return strings.Join(parts, ",")
}

// TrafficTreatment describes what a flow rule does with matched traffic.
type TrafficTreatment struct {
	Outputs []PortNumber `json:"outputs,omitempty"`
}

// Copy returns a deep copy of the treatment.
func (t TrafficTreatment) Copy() TrafficTreatment {
	if t.Outputs == nil {
		return TrafficTreatment{}
	}
	return TrafficTreatment{Outputs: append([]PortNumber(nil), t.Outputs...)}
}

func (t TrafficTreatment) String() string {
	if len(t.Outputs) == 0 {
		return "drop"
	}
	parts := make([]string, 0, len(t.Outputs))
	for _, p := range t.Outputs {
		parts = append(parts, "output="+p.String())
	}
	return strings.Join(parts, ",")
}

// FlowRule is a match/action entry programmed on one device.
type FlowRule struct {
	ID       string   `json:"id"`
	Device   DeviceID `json:"device"`
	Priority int      `json:"priority"`
	AppID    string   `json:"app"`
	// Owner is the intent the rule was compiled for. Identical rules of
	// different intents are separate entries.
	Owner     Key              `json:"owner"`
	Selector  TrafficSelector  `json:"selector"`
	Treatment TrafficTreatment `json:"treatment"`
}

// NewFlowRule builds a flow rule of the intent owner. The ID is derived from
// the owner and the rule content, so recompiling an intent into the same
// rules yields the same IDs.
func NewFlowRule(owner Key, device DeviceID, priority int, selector TrafficSelector, treatment TrafficTreatment) FlowRule {
	rule := FlowRule{
		Device:    device,
		Priority:  priority,
		AppID:     owner.AppID,
		Owner:     owner,
		Selector:  selector,
		Treatment: treatment,
	}
	rule.ID = identity.ContentID(owner.String(), string(device), strconv.Itoa(priority), selector.String(), treatment.String())
	return rule
}

// Copy returns a deep copy of the rule.
func (r FlowRule) Copy() FlowRule {
	out := r
	out.Selector = r.Selector.Copy()
	out.Treatment = r.Treatment.Copy()
	return out
}
