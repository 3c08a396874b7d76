package api

import (
	"fmt"
	"strconv"
	"strings"
)

// NetworkResource is something in the network an intent can depend on.
type NetworkResource interface {
	// ResourceKey identifies the resource. Two values describing the same
	// resource return the same key.
	ResourceKey() string
	// Devices lists the devices the resource is located on.
	Devices() []DeviceID
}

// DeviceID identifies a forwarding device.
type DeviceID string

// ResourceKey implements NetworkResource.
func (d DeviceID) ResourceKey() string {
	return "device:" + string(d)
}

// Devices implements NetworkResource.
func (d DeviceID) Devices() []DeviceID {
	return []DeviceID{d}
}

// PortNumber is a port on a device.
type PortNumber uint32

func (p PortNumber) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// ConnectPoint is a port on a specific device.
type ConnectPoint struct {
	Device DeviceID   `json:"device"`
	Port   PortNumber `json:"port"`
}

func (c ConnectPoint) String() string {
	return string(c.Device) + "/" + c.Port.String()
}

// ResourceKey implements NetworkResource.
func (c ConnectPoint) ResourceKey() string {
	return "port:" + c.String()
}

// Devices implements NetworkResource.
func (c ConnectPoint) Devices() []DeviceID {
	return []DeviceID{c.Device}
}

// ParseConnectPoint parses the "device/port" form returned by String.
func ParseConnectPoint(s string) (ConnectPoint, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return ConnectPoint{}, fmt.Errorf("invalid connect point %q", s)
	}
	port, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return ConnectPoint{}, fmt.Errorf("invalid port in connect point %q: %v", s, err)
	}
	return ConnectPoint{Device: DeviceID(s[:i]), Port: PortNumber(port)}, nil
}

// Link is a unidirectional connection between two connect points.
type Link struct {
	Src ConnectPoint `json:"src"`
	Dst ConnectPoint `json:"dst"`
}

func (l Link) String() string {
	return l.Src.String() + "->" + l.Dst.String()
}

// ResourceKey implements NetworkResource.
func (l Link) ResourceKey() string {
	return "link:" + l.String()
}

// Devices implements NetworkResource.
func (l Link) Devices() []DeviceID {
	if l.Src.Device == l.Dst.Device {
		return []DeviceID{l.Src.Device}
	}
	return []DeviceID{l.Src.Device, l.Dst.Device}
}

// Reverse returns the link in the opposite direction.
func (l Link) Reverse() Link {
	return Link{Src: l.Dst, Dst: l.Src}
}

// CopyResources returns a copy of the resource slice. Resources are values,
// so a shallow copy is enough.
func CopyResources(resources []NetworkResource) []NetworkResource {
	if resources == nil {
		return nil
	}
	out := make([]NetworkResource, len(resources))
	copy(out, resources)
	return out
}
