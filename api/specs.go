package api

// PointToPointSpec requests connectivity from one connect point to another.
type PointToPointSpec struct {
	Ingress   ConnectPoint     `json:"ingress"`
	Egress    ConnectPoint     `json:"egress"`
	Selector  TrafficSelector  `json:"selector"`
	Treatment TrafficTreatment `json:"treatment"`
}

// Type implements IntentSpec.
func (s *PointToPointSpec) Type() IntentType { return IntentTypePointToPoint }

// Installable implements IntentSpec.
func (s *PointToPointSpec) Installable() bool { return false }

// CopySpec implements IntentSpec.
func (s *PointToPointSpec) CopySpec() IntentSpec {
	out := *s
	out.Selector = s.Selector.Copy()
	out.Treatment = s.Treatment.Copy()
	return &out
}

// PathSpec requests that traffic follows an explicit sequence of links.
type PathSpec struct {
	Ingress   ConnectPoint     `json:"ingress"`
	Egress    ConnectPoint     `json:"egress"`
	Links     []Link           `json:"links"`
	Selector  TrafficSelector  `json:"selector"`
	Treatment TrafficTreatment `json:"treatment"`
}

// Type implements IntentSpec.
func (s *PathSpec) Type() IntentType { return IntentTypePath }

// Installable implements IntentSpec.
func (s *PathSpec) Installable() bool { return false }

// CopySpec implements IntentSpec.
func (s *PathSpec) CopySpec() IntentSpec {
	out := *s
	out.Links = append([]Link(nil), s.Links...)
	out.Selector = s.Selector.Copy()
	out.Treatment = s.Treatment.Copy()
	return &out
}

// LinkCollectionSpec requests that traffic entering at the ingress points is
// forwarded over a set of links to the egress points.
type LinkCollectionSpec struct {
	Links     []Link           `json:"links"`
	Ingress   []ConnectPoint   `json:"ingress"`
	Egress    []ConnectPoint   `json:"egress"`
	Selector  TrafficSelector  `json:"selector"`
	Treatment TrafficTreatment `json:"treatment"`
}

// Type implements IntentSpec.
func (s *LinkCollectionSpec) Type() IntentType { return IntentTypeLinkCollection }

// Installable implements IntentSpec.
func (s *LinkCollectionSpec) Installable() bool { return false }

// CopySpec implements IntentSpec.
func (s *LinkCollectionSpec) CopySpec() IntentSpec {
	out := *s
	out.Links = append([]Link(nil), s.Links...)
	out.Ingress = append([]ConnectPoint(nil), s.Ingress...)
	out.Egress = append([]ConnectPoint(nil), s.Egress...)
	out.Selector = s.Selector.Copy()
	out.Treatment = s.Treatment.Copy()
	return &out
}

// FlowRuleSpec is an installable set of flow rules.
type FlowRuleSpec struct {
	Rules []FlowRule `json:"rules"`
}

// Type implements IntentSpec.
func (s *FlowRuleSpec) Type() IntentType { return IntentTypeFlowRule }

// Installable implements IntentSpec.
func (s *FlowRuleSpec) Installable() bool { return true }

// CopySpec implements IntentSpec.
func (s *FlowRuleSpec) CopySpec() IntentSpec {
	out := &FlowRuleSpec{}
	if s.Rules != nil {
		out.Rules = make([]FlowRule, len(s.Rules))
		for i, r := range s.Rules {
			out.Rules[i] = r.Copy()
		}
	}
	return out
}
