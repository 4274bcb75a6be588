// Package spec holds the declared fabric topology: how many devices of each
// type the fabric should contain, which peer every switch port is expected to
// reach, and which address ranges each endpoint owns.
package spec

import (
	"fmt"
	"sort"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// ============================================================================
// Fabric Specification File
// ============================================================================

// FabricSpecFile represents the fabric specification file (fabric.json or
// fabric.yaml).
type FabricSpecFile struct {
	Version     string                         `json:"version" yaml:"version"`
	Description string                         `json:"description,omitempty" yaml:"description,omitempty"`
	MatchPolicy MatchPolicy                    `json:"match_policy,omitempty" yaml:"match_policy,omitempty"`
	Granularity uint64                         `json:"granularity,omitempty" yaml:"granularity,omitempty"`
	Devices     map[device.Type][]*DeviceEntry `json:"devices" yaml:"devices"`
}

// DeviceEntry declares one device of a type.
type DeviceEntry struct {
	ID int `json:"id" yaml:"id"`

	// PhysicalID is the expected hardware identity (e.g. PCI bus address).
	// Optional; used by the physical-info mapping pass.
	PhysicalID string `json:"physical_id,omitempty" yaml:"physical_id,omitempty"`

	MaxLinks int `json:"max_links,omitempty" yaml:"max_links,omitempty"`

	// Ports maps a switch port to the peer it is expected to reach.
	Ports map[int]*PeerRef `json:"ports,omitempty" yaml:"ports,omitempty"`

	// AddressRanges declares endpoint address ownership per address mode.
	AddressRanges map[device.AddressMode]*AddressRange `json:"address_ranges,omitempty" yaml:"address_ranges,omitempty"`
}

// PeerRef names the far end of a link by topology identity.
type PeerRef struct {
	Type device.Type `json:"type" yaml:"type"`
	ID   int         `json:"id" yaml:"id"`
	Link int         `json:"link" yaml:"link"`
}

func (p PeerRef) String() string {
	return fmt.Sprintf("%s%d:%d", p.Type, p.ID, p.Link)
}

// AddressRange is a contiguous address range.
type AddressRange struct {
	Base uint64 `json:"base" yaml:"base"`
	Size uint64 `json:"size" yaml:"size"`
}

// Key identifies a declared device.
type Key struct {
	Type device.Type
	ID   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s%d", k.Type, k.ID)
}

// ============================================================================
// Spec (read-only, indexed)
// ============================================================================

// Spec is the validated, indexed form of a FabricSpecFile. It is read-only
// once built.
type Spec struct {
	file    *FabricSpecFile
	entries map[Key]*DeviceEntry
	byType  map[device.Type][]*DeviceEntry
}

// File returns the underlying specification file.
func (s *Spec) File() *FabricSpecFile {
	return s.file
}

// Types returns the device types declared by the spec, in stable order.
func (s *Spec) Types() []device.Type {
	var types []device.Type
	for _, t := range device.Types {
		if len(s.byType[t]) > 0 {
			types = append(types, t)
		}
	}
	return types
}

// Declares reports whether the spec declares any device of type t.
func (s *Spec) Declares(t device.Type) bool {
	return len(s.byType[t]) > 0
}

// Count returns the number of declared devices of type t.
func (s *Spec) Count(t device.Type) int {
	return len(s.byType[t])
}

// Entries returns the entries of type t sorted by id.
func (s *Spec) Entries(t device.Type) []*DeviceEntry {
	return s.byType[t]
}

// IDs returns the declared ids of type t in ascending order.
func (s *Spec) IDs(t device.Type) []int {
	ids := make([]int, 0, len(s.byType[t]))
	for _, e := range s.byType[t] {
		ids = append(ids, e.ID)
	}
	return ids
}

// Entry returns the declared device (t, id).
func (s *Spec) Entry(t device.Type, id int) (*DeviceEntry, bool) {
	e, ok := s.entries[Key{t, id}]
	return e, ok
}

// ExpectedPeer returns the peer the spec expects on a switch port.
func (s *Spec) ExpectedPeer(switchID, port int) (*PeerRef, bool) {
	e, ok := s.entries[Key{device.TypeSwitch, switchID}]
	if !ok {
		return nil, false
	}
	p, ok := e.Ports[port]
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// AddressRange returns the declared address range of (t, id) for mode.
func (s *Spec) AddressRange(t device.Type, id int, mode device.AddressMode) (*AddressRange, bool) {
	e, ok := s.entries[Key{t, id}]
	if !ok {
		return nil, false
	}
	r, ok := e.AddressRanges[mode]
	if !ok || r == nil {
		return nil, false
	}
	return r, true
}

// MatchPolicy returns the policy declared in the file (empty when unset).
func (s *Spec) MatchPolicy() MatchPolicy {
	return s.file.MatchPolicy
}

// MinGranularity is the smallest aperture size a fabric may use.
const MinGranularity = uint64(1) << 20

// CheckGranularity rejects aperture sizes that are not a power of two or are
// below MinGranularity. Zero means "use the default" and is accepted.
func CheckGranularity(g uint64) error {
	if g == 0 {
		return nil
	}
	if g < MinGranularity || g&(g-1) != 0 {
		return fmt.Errorf("granularity 0x%x must be a power of two of at least 0x%x: %w",
			g, MinGranularity, util.ErrInvalidInput)
	}
	return nil
}

// Granularity returns the aperture granularity declared in the file (0 when unset).
func (s *Spec) Granularity() uint64 {
	return s.file.Granularity
}

func (s *Spec) index() {
	s.entries = make(map[Key]*DeviceEntry)
	s.byType = make(map[device.Type][]*DeviceEntry)
	for t, list := range s.file.Devices {
		for _, e := range list {
			if e == nil {
				continue
			}
			s.entries[Key{t, e.ID}] = e
			s.byType[t] = append(s.byType[t], e)
		}
		sort.Slice(s.byType[t], func(i, j int) bool { return s.byType[t][i].ID < s.byType[t][j].ID })
	}
}
