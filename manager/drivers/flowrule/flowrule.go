// Package flowrule defines how compiled flow rules reach the devices.
package flowrule

import (
	"context"
	"sort"

	"github.com/intentkit/intentkit/api"
)

// Batch is a set of flow rule changes applied together.
type Batch struct {
	Removals  []api.FlowRule
	Additions []api.FlowRule
}

// Empty reports whether the batch changes nothing.
func (b Batch) Empty() bool {
	return len(b.Removals) == 0 && len(b.Additions) == 0
}

// Devices returns the devices touched by the batch, sorted.
func (b Batch) Devices() []api.DeviceID {
	seen := make(map[api.DeviceID]struct{})
	for _, rules := range [][]api.FlowRule{b.Removals, b.Additions} {
		for _, r := range rules {
			seen[r.Device] = struct{}{}
		}
	}
	devices := make([]api.DeviceID, 0, len(seen))
	for d := range seen {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	return devices
}

// Delta returns the batch turning the rules of from into the rules of to.
// Rules present on both sides are left alone.
func Delta(from, to []api.FlowRule) Batch {
	old := make(map[string]struct{}, len(from))
	for _, r := range from {
		old[r.ID] = struct{}{}
	}
	keep := make(map[string]struct{}, len(to))
	var b Batch
	for _, r := range to {
		keep[r.ID] = struct{}{}
		if _, ok := old[r.ID]; !ok {
			b.Additions = append(b.Additions, r)
		}
	}
	for _, r := range from {
		if _, ok := keep[r.ID]; !ok {
			b.Removals = append(b.Removals, r)
		}
	}
	return b
}

// Service programs flow rules. Apply returns immediately and calls done once
// the batch was applied or failed. A failed batch leaves no partial changes
// behind.
type Service interface {
	Apply(ctx context.Context, batch Batch, done func(error))
}

// Reader lists the rules currently programmed on a device.
type Reader interface {
	Rules(ctx context.Context, device api.DeviceID) ([]api.FlowRule, error)
}

// SortRules orders rules by device, then ID.
func SortRules(rules []api.FlowRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Device != rules[j].Device {
			return rules[i].Device < rules[j].Device
		}
		return rules[i].ID < rules[j].ID
	})
}
