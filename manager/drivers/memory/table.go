// Package memory provides a flow rule service that keeps the rules of every
// device in memory.
package memory

import (
	"context"
	"sync"

	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/log"
	"github.com/intentkit/intentkit/manager/drivers/flowrule"
	"github.com/pkg/errors"
)

// ErrDeviceFailed is returned for batches touching a device marked as failed.
var ErrDeviceFailed = errors.New("device rejected flow rules")

// Table is an in-memory flow rule table.
type Table struct {
	mu      sync.Mutex
	rules   map[api.DeviceID]map[string]api.FlowRule
	failing map[api.DeviceID]struct{}
	wg      sync.WaitGroup
}

// New returns an empty table.
func New() *Table {
	return &Table{
		rules:   make(map[api.DeviceID]map[string]api.FlowRule),
		failing: make(map[api.DeviceID]struct{}),
	}
}

// Apply implements flowrule.Service.
func (t *Table) Apply(ctx context.Context, batch flowrule.Batch, done func(error)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		err := t.apply(batch)
		if err != nil {
			log.G(ctx).WithError(err).Debug("flow rule batch rejected")
		}
		done(err)
	}()
}

func (t *Table) apply(batch flowrule.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, device := range batch.Devices() {
		if _, ok := t.failing[device]; ok {
			return errors.Wrapf(ErrDeviceFailed, "device %s", device)
		}
	}
	for _, r := range batch.Removals {
		if table, ok := t.rules[r.Device]; ok {
			delete(table, r.ID)
			if len(table) == 0 {
				delete(t.rules, r.Device)
			}
		}
	}
	for _, r := range batch.Additions {
		table, ok := t.rules[r.Device]
		if !ok {
			table = make(map[string]api.FlowRule)
			t.rules[r.Device] = table
		}
		table[r.ID] = r.Copy()
	}
	return nil
}

// FailDevice makes every later batch touching device fail, or succeed again
// when failed is false.
func (t *Table) FailDevice(device api.DeviceID, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if failed {
		t.failing[device] = struct{}{}
	} else {
		delete(t.failing, device)
	}
}

// Rules implements flowrule.Reader.
func (t *Table) Rules(ctx context.Context, device api.DeviceID) ([]api.FlowRule, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rules := make([]api.FlowRule, 0, len(t.rules[device]))
	for _, r := range t.rules[device] {
		rules = append(rules, r.Copy())
	}
	flowrule.SortRules(rules)
	return rules, nil
}

// Count returns the number of rules across all devices.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, table := range t.rules {
		n += len(table)
	}
	return n
}

// Wait blocks until every batch handed to Apply has completed.
func (t *Table) Wait() {
	t.wg.Wait()
}
