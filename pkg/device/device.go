// Package device defines the narrow capability interface the topology core
// consumes from the device layer. Link training, register access and device
// enumeration live behind it; the core only asks "is this link active",
// "what is on the other end" and "where would this switch forward".
package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors returned by Device implementations
var (
	ErrNoAddressRange = errors.New("no address range for mode")
	ErrNotSwitch      = errors.New("device has no forwarding table")
	ErrLinkInactive   = errors.New("link is not active")
	ErrLinkRange      = errors.New("link index out of range")
)

// Type is the device type. TopologyIDs are assigned per type.
type Type string

const (
	TypeGPU    Type = "gpu"
	TypeSwitch Type = "switch"
	TypeBridge Type = "bridge"
)

// Types lists all device types in a stable order.
var Types = []Type{TypeGPU, TypeSwitch, TypeBridge}

// ParseType parses a device type name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gpu":
		return TypeGPU, nil
	case "switch", "sw":
		return TypeSwitch, nil
	case "bridge", "npu", "ebridge":
		return TypeBridge, nil
	}
	return "", fmt.Errorf("unknown device type '%s'", s)
}

// DataType is the traffic class a forwarding query is made for.
type DataType string

const (
	Request  DataType = "request"
	Response DataType = "response"
)

// DataTypes lists the traffic classes routes are built for.
var DataTypes = []DataType{Request, Response}

// ParseDataType parses a traffic class name.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "request", "req":
		return Request, nil
	case "response", "rsp":
		return Response, nil
	}
	return "", fmt.Errorf("unknown data type '%s'", s)
}

// AddressMode selects which address space a range accessor reports.
type AddressMode string

const (
	AddressLocal  AddressMode = "local"
	AddressGlobal AddressMode = "global"
)

// ParseAddressMode parses an address mode name.
func ParseAddressMode(s string) (AddressMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return AddressLocal, nil
	case "global":
		return AddressGlobal, nil
	}
	return "", fmt.Errorf("unknown address mode '%s'", s)
}

// EndpointInfo is one entry of a device's detected wiring.
type EndpointInfo struct {
	Link     int
	Active   bool
	PeerID   string // stable id of the remote device, "" when unknown
	PeerType Type
	PeerLink int
	Peer     Device // nil when the remote device is not in the catalog
}

// Device is the per-device capability consumed by the topology core.
// Implementations are pointer types so devices can be used as map keys.
type Device interface {
	Type() Type
	IsEndpoint() bool
	StableID() string
	MaxLinks() int

	IsLinkActive(link int) bool
	GetRemoteEndpoint(link int) (peer Device, peerLink int, err error)

	// GetOutputLinks is the forwarding oracle: the links a switch would use to
	// forward traffic of class dt, arriving on inputLink, toward fabricBase.
	GetOutputLinks(inputLink int, fabricBase uint64, dt DataType) ([]int, error)

	GetDetectedEndpointInfo() ([]EndpointInfo, error)

	AddressRangeBase(mode AddressMode) (uint64, error)
	AddressRangeSize(mode AddressMode) (uint64, error)
}

// Grading is per-lane signal grading for one link.
type Grading struct {
	RxInit  []int `json:"rx_init,omitempty" yaml:"rx_init,omitempty"`
	TxInit  []int `json:"tx_init,omitempty" yaml:"tx_init,omitempty"`
	RxMaint []int `json:"rx_maint,omitempty" yaml:"rx_maint,omitempty"`
	TxMaint []int `json:"tx_maint,omitempty" yaml:"tx_maint,omitempty"`
}

// IsZero reports whether no grading data is present.
func (g Grading) IsZero() bool {
	return len(g.RxInit) == 0 && len(g.TxInit) == 0 && len(g.RxMaint) == 0 && len(g.TxMaint) == 0
}

// Grader is implemented by devices that can report per-lane signal grading.
type Grader interface {
	LinkGrading(link int) (Grading, error)
}

// Catalog enumerates discovered devices.
type Catalog interface {
	// Devices returns all devices in discovery order.
	Devices() []Device
	// Lookup finds a device by stable id.
	Lookup(stableID string) (Device, bool)
}

// NormalizeStableID canonicalizes a stable id for comparison
// ("0000:0A:00.0 " and "0000:0a:00.0" compare equal).
func NormalizeStableID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Name returns a short printable name for a device.
func Name(d Device) string {
	if d == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s(%s)", d.Type(), d.StableID())
}

// SortDevices sorts devices by type then stable id, in place.
func SortDevices(devs []Device) {
	sort.SliceStable(devs, func(i, j int) bool { return Less(devs[i], devs[j]) })
}

// Less orders devices by type then stable id.
func Less(a, b Device) bool {
	if a.Type() != b.Type() {
		return typeRank(a.Type()) < typeRank(b.Type())
	}
	return NormalizeStableID(a.StableID()) < NormalizeStableID(b.StableID())
}

func typeRank(t Type) int {
	for i, tt := range Types {
		if tt == t {
			return i
		}
	}
	return len(Types)
}

// OfType filters devices by type, preserving order.
func OfType(devs []Device, t Type) []Device {
	var out []Device
	for _, d := range devs {
		if d.Type() == t {
			out = append(out, d)
		}
	}
	return out
}

// ActiveLinks returns the active link indexes of a device.
func ActiveLinks(d Device) []int {
	var links []int
	for l := 0; l < d.MaxLinks(); l++ {
		if d.IsLinkActive(l) {
			links = append(links, l)
		}
	}
	return links
}
