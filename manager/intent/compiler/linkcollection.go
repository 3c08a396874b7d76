package compiler

import (
	"sort"

	"github.com/intentkit/intentkit/api"
	"github.com/pkg/errors"
)

// LinkCollectionCompiler compiles link collections into one flow rule
// intent. Every device gets a rule per inbound port forwarding to all of its
// outbound ports.
type LinkCollectionCompiler struct{}

// Compile implements intent.Compiler.
func (c *LinkCollectionCompiler) Compile(i *api.Intent, installed []*api.Intent) ([]*api.Intent, error) {
	spec, ok := i.Spec.(*api.LinkCollectionSpec)
	if !ok {
		return nil, unexpectedSpec(i)
	}

	inPorts := make(map[api.DeviceID]map[api.PortNumber]struct{})
	outPorts := make(map[api.DeviceID]map[api.PortNumber]struct{})
	egress := make(map[api.DeviceID]struct{})
	for _, cp := range spec.Ingress {
		addPort(inPorts, cp.Device, cp.Port)
	}
	for _, cp := range spec.Egress {
		addPort(outPorts, cp.Device, cp.Port)
		egress[cp.Device] = struct{}{}
	}
	for _, link := range spec.Links {
		addPort(outPorts, link.Src.Device, link.Src.Port)
		addPort(inPorts, link.Dst.Device, link.Dst.Port)
	}

	devices := make([]api.DeviceID, 0, len(inPorts))
	for device := range inPorts {
		devices = append(devices, device)
	}
	for device := range outPorts {
		if _, ok := inPorts[device]; !ok {
			return nil, errors.Wrapf(ErrInvalidCollection, "no traffic enters device %s", device)
		}
	}
	sort.Slice(devices, func(a, b int) bool { return devices[a] < devices[b] })

	var rules []api.FlowRule
	for _, device := range devices {
		outs := sortedPorts(outPorts[device])
		if len(outs) == 0 {
			return nil, errors.Wrapf(ErrInvalidCollection, "no traffic leaves device %s", device)
		}
		treatment := api.TrafficTreatment{Outputs: outs}
		if _, ok := egress[device]; ok {
			treatment = withOutputs(spec.Treatment, outs)
		}
		for _, in := range sortedPorts(inPorts[device]) {
			rules = append(rules, api.NewFlowRule(i.Key, device, i.Priority,
				spec.Selector.WithInPort(in), treatment.Copy()))
		}
	}

	return []*api.Intent{
		api.NewIntent(i.Key, i.Priority, &api.FlowRuleSpec{Rules: rules}, linkResources(spec.Links)...),
	}, nil
}

func addPort(ports map[api.DeviceID]map[api.PortNumber]struct{}, device api.DeviceID, port api.PortNumber) {
	set, ok := ports[device]
	if !ok {
		set = make(map[api.PortNumber]struct{})
		ports[device] = set
	}
	set[port] = struct{}{}
}

func sortedPorts(set map[api.PortNumber]struct{}) []api.PortNumber {
	ports := make([]api.PortNumber, 0, len(set))
	for port := range set {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(a, b int) bool { return ports[a] < ports[b] })
	return ports
}
