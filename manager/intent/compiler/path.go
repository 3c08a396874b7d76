package compiler

import (
	"github.com/intentkit/intentkit/api"
	"github.com/pkg/errors"
)

// PathCompiler compiles path intents into flow rules, one per hop.
type PathCompiler struct{}

// Compile implements intent.Compiler.
func (c *PathCompiler) Compile(i *api.Intent, installed []*api.Intent) ([]*api.Intent, error) {
	spec, ok := i.Spec.(*api.PathSpec)
	if !ok {
		return nil, unexpectedSpec(i)
	}
	if err := validatePath(spec); err != nil {
		return nil, err
	}

	// traffic enters each hop where the previous link ends and leaves
	// where the next one starts
	var rules []api.FlowRule
	inPort := spec.Ingress.Port
	for _, link := range spec.Links {
		rules = append(rules, api.NewFlowRule(i.Key, link.Src.Device, i.Priority,
			spec.Selector.WithInPort(inPort),
			api.TrafficTreatment{Outputs: []api.PortNumber{link.Src.Port}}))
		inPort = link.Dst.Port
	}
	rules = append(rules, api.NewFlowRule(i.Key, spec.Egress.Device, i.Priority,
		spec.Selector.WithInPort(inPort),
		withOutputs(spec.Treatment, []api.PortNumber{spec.Egress.Port})))

	return []*api.Intent{
		api.NewIntent(i.Key, i.Priority, &api.FlowRuleSpec{Rules: rules}, linkResources(spec.Links)...),
	}, nil
}

func validatePath(spec *api.PathSpec) error {
	at := spec.Ingress.Device
	for _, link := range spec.Links {
		if link.Src.Device != at {
			return errors.Wrapf(ErrInvalidPath, "link %s does not start at %s", link, at)
		}
		at = link.Dst.Device
	}
	if at != spec.Egress.Device {
		return errors.Wrapf(ErrInvalidPath, "path ends at %s instead of %s", at, spec.Egress.Device)
	}
	return nil
}

// withOutputs returns a copy of treatment forwarding to outputs.
func withOutputs(treatment api.TrafficTreatment, outputs []api.PortNumber) api.TrafficTreatment {
	out := treatment.Copy()
	out.Outputs = outputs
	return out
}
