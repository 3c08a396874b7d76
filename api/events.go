package api

import "fmt"

// IntentEventType is the type of an intent lifecycle event.
type IntentEventType int

const (
	// IntentEventInstallReq signals that installation was requested.
	IntentEventInstallReq IntentEventType = iota
	// IntentEventInstalled signals that the intent was installed.
	IntentEventInstalled
	// IntentEventFailed signals that the intent could not be compiled.
	IntentEventFailed
	// IntentEventWithdrawReq signals that withdrawal was requested.
	IntentEventWithdrawReq
	// IntentEventWithdrawn signals that the intent was withdrawn.
	IntentEventWithdrawn
	// IntentEventPurged signals that the intent record was removed.
	IntentEventPurged
	// IntentEventCorrupt signals that installation or withdrawal failed
	// on a device.
	IntentEventCorrupt
)

var intentEventTypeNames = map[IntentEventType]string{
	IntentEventInstallReq:  "INSTALL_REQ",
	IntentEventInstalled:   "INSTALLED",
	IntentEventFailed:      "FAILED",
	IntentEventWithdrawReq: "WITHDRAW_REQ",
	IntentEventWithdrawn:   "WITHDRAWN",
	IntentEventPurged:      "PURGED",
	IntentEventCorrupt:     "CORRUPT",
}

func (t IntentEventType) String() string {
	if name, ok := intentEventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("IntentEventType(%d)", int(t))
}

// IntentEvent reports a state transition of an intent.
type IntentEvent struct {
	Type    IntentEventType
	Subject *IntentData
}

func (e IntentEvent) String() string {
	return fmt.Sprintf("%s %s (version %s)", e.Type, e.Subject.Key(), e.Subject.Version)
}

// EventFor returns the event that announces data reaching its state.
// Transient states produce no event.
func EventFor(data *IntentData) (IntentEvent, bool) {
	var t IntentEventType
	switch data.State {
	case IntentStateInstallReq:
		t = IntentEventInstallReq
	case IntentStateInstalled:
		t = IntentEventInstalled
	case IntentStateFailed:
		t = IntentEventFailed
	case IntentStateWithdrawReq:
		t = IntentEventWithdrawReq
	case IntentStateWithdrawn:
		t = IntentEventWithdrawn
	case IntentStatePurgeReq:
		t = IntentEventPurged
	case IntentStateCorrupt:
		t = IntentEventCorrupt
	default:
		return IntentEvent{}, false
	}
	return IntentEvent{Type: t, Subject: data}, true
}

// TopologyReasonType is the kind of change behind a topology event.
type TopologyReasonType int

const (
	// LinkAdded is reported when a link comes up.
	LinkAdded TopologyReasonType = iota
	// LinkUpdated is reported when link attributes change.
	LinkUpdated
	// LinkRemoved is reported when a link goes down.
	LinkRemoved
	// DeviceAdded is reported when a device connects.
	DeviceAdded
	// DeviceUpdated is reported when device attributes change.
	DeviceUpdated
	// DeviceRemoved is reported when a device disconnects.
	DeviceRemoved
	// DeviceAvailabilityChanged is reported when a device becomes available
	// or unavailable without being removed.
	DeviceAvailabilityChanged
)

var topologyReasonNames = map[TopologyReasonType]string{
	LinkAdded:                 "LINK_ADDED",
	LinkUpdated:               "LINK_UPDATED",
	LinkRemoved:               "LINK_REMOVED",
	DeviceAdded:               "DEVICE_ADDED",
	DeviceUpdated:             "DEVICE_UPDATED",
	DeviceRemoved:             "DEVICE_REMOVED",
	DeviceAvailabilityChanged: "DEVICE_AVAILABILITY_CHANGED",
}

func (t TopologyReasonType) String() string {
	if name, ok := topologyReasonNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TopologyReasonType(%d)", int(t))
}

// TopologyReason is one change contributing to a topology event.
type TopologyReason struct {
	Type TopologyReasonType
	// Subject is a Link for link reasons and a DeviceID for device reasons.
	Subject NetworkResource
	// Available is the new availability for DeviceAvailabilityChanged.
	Available bool
}

// TopologyEvent reports that the topology changed. An event without reasons
// means the change could not be attributed to specific elements.
type TopologyEvent struct {
	Reasons []TopologyReason
}

// ResourceEventType is the type of a resource event.
type ResourceEventType int

const (
	// ResourceAdded is reported when a resource becomes usable.
	ResourceAdded ResourceEventType = iota
	// ResourceRemoved is reported when a resource goes away.
	ResourceRemoved
)

func (t ResourceEventType) String() string {
	switch t {
	case ResourceAdded:
		return "RESOURCE_ADDED"
	case ResourceRemoved:
		return "RESOURCE_REMOVED"
	}
	return fmt.Sprintf("ResourceEventType(%d)", int(t))
}

// ResourceEvent reports that a network resource was added or removed.
type ResourceEvent struct {
	Type     ResourceEventType
	Resource NetworkResource
}
