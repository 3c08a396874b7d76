package api

import (
	"encoding/json"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentTypeLineage(t *testing.T) {
	assert.Equal(t, []IntentType{IntentTypePointToPoint, IntentTypeConnectivity}, IntentTypePointToPoint.Lineage())
	assert.Equal(t, []IntentType{IntentTypeFlowRule}, IntentTypeFlowRule.Lineage())

	const optical IntentType = "test-optical-p2p"
	require.NoError(t, RegisterIntentType(optical, IntentTypePointToPoint))
	assert.Equal(t, []IntentType{optical, IntentTypePointToPoint, IntentTypeConnectivity}, optical.Lineage())

	err := RegisterIntentType(optical, IntentTypeConnectivity)
	assert.Equal(t, ErrIntentTypeExists, errors.Cause(err))

	err = RegisterIntentType("test-orphan", "test-missing-parent")
	assert.Equal(t, ErrUnknownIntentType, errors.Cause(err))

	// unknown types have no ancestors
	assert.Equal(t, []IntentType{"test-unknown"}, IntentType("test-unknown").Lineage())
}

func TestNewIntentDefaultsName(t *testing.T) {
	i := NewIntent(Key{AppID: "app"}, 100, &FlowRuleSpec{})
	assert.NotEmpty(t, i.ID)
	assert.Equal(t, i.ID, i.Key.Name)
	assert.Equal(t, "app", i.AppID())
	assert.True(t, i.Installable())

	named := NewIntent(NewKey("app", "named"), 100, &PathSpec{})
	assert.Equal(t, "named", named.Key.Name)
	assert.False(t, named.Installable())
}

func TestIntentJSONKeepsVariant(t *testing.T) {
	link := Link{Src: ConnectPoint{Device: "of:1", Port: 2}, Dst: ConnectPoint{Device: "of:2", Port: 1}}
	rule := NewFlowRule(NewKey("app", "a"), "of:1", 10, TrafficSelector{InPort: 1}, TrafficTreatment{Outputs: []PortNumber{2}})
	data := &IntentData{
		Intent:  testIntent("p2p"),
		Request: IntentStateInstallReq,
		State:   IntentStateInstalled,
		Version: Version{Index: 7},
		Installables: []*Intent{{
			ID:        "fr",
			Key:       NewKey("test", "p2p"),
			Resources: []NetworkResource{link, DeviceID("of:1"), link.Src},
			Spec:      &FlowRuleSpec{Rules: []FlowRule{rule}},
		}},
		ErrorCount: 2,
	}

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded IntentData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, IntentTypePointToPoint, decoded.Intent.Type())
	assert.Equal(t, data.Intent.Spec, decoded.Intent.Spec)
	require.Len(t, decoded.Installables, 1)
	spec, ok := decoded.Installables[0].Spec.(*FlowRuleSpec)
	require.True(t, ok)
	assert.Equal(t, rule.ID, spec.Rules[0].ID)
	assert.Equal(t, data.Installables[0].Resources, decoded.Installables[0].Resources)
	assert.Equal(t, IntentStateInstalled, decoded.State)
	assert.Equal(t, 2, decoded.ErrorCount)
}

func TestFlowRuleIDIsContentDerived(t *testing.T) {
	a := NewFlowRule(NewKey("app", "a"), "of:1", 10, TrafficSelector{InPort: 1}, TrafficTreatment{Outputs: []PortNumber{2}})
	b := NewFlowRule(NewKey("app", "a"), "of:1", 10, TrafficSelector{InPort: 1}, TrafficTreatment{Outputs: []PortNumber{2}})
	c := NewFlowRule(NewKey("app", "a"), "of:1", 10, TrafficSelector{InPort: 1}, TrafficTreatment{Outputs: []PortNumber{3}})
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)

	// same content compiled for another intent is a separate rule
	d := NewFlowRule(NewKey("app", "b"), "of:1", 10, TrafficSelector{InPort: 1}, TrafficTreatment{Outputs: []PortNumber{2}})
	assert.NotEqual(t, a.ID, d.ID)
	assert.Equal(t, NewKey("app", "b"), d.Owner)
	assert.Equal(t, "app", d.AppID)
}

func TestClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := fakeclock.NewFakeClock(start)
	c := NewClock(fake)

	v1 := c.Next()
	fake.Increment(time.Second)
	v2 := c.Next()
	assert.True(t, v2.IsNewerThan(v1))
	assert.True(t, v1.IsOlderThan(v2))
	assert.Equal(t, start, v1.Timestamp)
	assert.Equal(t, time.Second, c.Since(v1.Timestamp))

	c.Observe(Version{Index: 100})
	assert.Equal(t, uint64(101), c.Next().Index)

	// observing an older version does not move the clock back
	c.Observe(Version{Index: 3})
	assert.Equal(t, uint64(102), c.Next().Index)
}

func TestParseHelpers(t *testing.T) {
	cp, err := ParseConnectPoint("of:0001/3")
	require.NoError(t, err)
	assert.Equal(t, ConnectPoint{Device: "of:0001", Port: 3}, cp)

	_, err = ParseConnectPoint("of:0001")
	assert.Error(t, err)

	k, err := ParseKey("app/name")
	require.NoError(t, err)
	assert.Equal(t, NewKey("app", "name"), k)
	_, err = ParseKey("/name")
	assert.Error(t, err)
}
