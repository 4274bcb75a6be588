// Package identity binds physical devices to the numeric topology ids the
// fabric specification declares for them.
package identity

import (
	"fmt"
	"sort"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// Entry is one binding of a Mapping.
type Entry struct {
	Type   device.Type
	ID     int
	Device device.Device
}

// Conflict records a bind that was refused because either side was already
// bound elsewhere.
type Conflict struct {
	Device   device.Device
	Type     device.Type
	HeldID   int           // id the device already holds, -1 if none
	WantedID int           // id the pass tried to assign
	Holder   device.Device // device already holding WantedID, nil if none
	Pass     string
}

func (c Conflict) String() string {
	switch {
	case c.HeldID >= 0:
		return fmt.Sprintf("%s holds %s%d, %s pass wanted %s%d",
			device.Name(c.Device), c.Type, c.HeldID, c.Pass, c.Type, c.WantedID)
	default:
		return fmt.Sprintf("%s%d is held by %s, %s pass wanted it for %s",
			c.Type, c.WantedID, device.Name(c.Holder), c.Pass, device.Name(c.Device))
	}
}

// Mapping is the per-type bijection between devices and topology ids.
//
// Devices live in an arena; the two indexes only store arena slots, so a
// device and its id are always added and removed together.
type Mapping struct {
	devices []device.Device
	ids     []int
	slotOf  map[device.Device]int
	byID    map[spec.Key]int

	conflicts []Conflict
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		slotOf: make(map[device.Device]int),
		byID:   make(map[spec.Key]int),
	}
}

// Bind assigns id to d. Rebinding a device to the id it already holds is a
// no-op. Binding a device that holds a different id, or an id held by a
// different device, fails with ErrConflictingAssignment and leaves the
// mapping unchanged.
func (m *Mapping) Bind(d device.Device, id int) error {
	key := spec.Key{Type: d.Type(), ID: id}

	if slot, ok := m.slotOf[d]; ok {
		if m.ids[slot] == id {
			return nil
		}
		return util.NewMappingError(util.ErrConflictingAssignment, string(d.Type()), []int{m.ids[slot], id},
			fmt.Sprintf("%s already holds %s", device.Name(d), spec.Key{Type: d.Type(), ID: m.ids[slot]}))
	}
	if slot, ok := m.byID[key]; ok {
		return util.NewMappingError(util.ErrConflictingAssignment, string(d.Type()), []int{id},
			fmt.Sprintf("%s already held by %s", key, device.Name(m.devices[slot])))
	}

	slot := len(m.devices)
	m.devices = append(m.devices, d)
	m.ids = append(m.ids, id)
	m.slotOf[d] = slot
	m.byID[key] = slot
	return nil
}

// IDOf returns the topology id bound to d.
func (m *Mapping) IDOf(d device.Device) (int, bool) {
	slot, ok := m.slotOf[d]
	if !ok {
		return 0, false
	}
	return m.ids[slot], true
}

// DeviceOf returns the device bound to (t, id).
func (m *Mapping) DeviceOf(t device.Type, id int) (device.Device, bool) {
	slot, ok := m.byID[spec.Key{Type: t, ID: id}]
	if !ok {
		return nil, false
	}
	return m.devices[slot], true
}

// IsMapped reports whether d holds an id.
func (m *Mapping) IsMapped(d device.Device) bool {
	_, ok := m.slotOf[d]
	return ok
}

// IsIDMapped reports whether (t, id) is held by a device.
func (m *Mapping) IsIDMapped(t device.Type, id int) bool {
	_, ok := m.byID[spec.Key{Type: t, ID: id}]
	return ok
}

// Len returns the number of bindings.
func (m *Mapping) Len() int {
	return len(m.devices)
}

// Devices returns the bound devices in binding order.
func (m *Mapping) Devices() []device.Device {
	out := make([]device.Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// Entries returns all bindings sorted by type then id.
func (m *Mapping) Entries() []Entry {
	entries := make([]Entry, 0, len(m.devices))
	for slot, d := range m.devices {
		entries = append(entries, Entry{Type: d.Type(), ID: m.ids[slot], Device: d})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return typeIndex(entries[i].Type) < typeIndex(entries[j].Type)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// Conflicts returns the binds refused under a permissive policy.
func (m *Mapping) Conflicts() []Conflict {
	return m.conflicts
}

// Check verifies that both indexes describe the same bijection.
func (m *Mapping) Check() error {
	if len(m.slotOf) != len(m.devices) || len(m.byID) != len(m.devices) || len(m.ids) != len(m.devices) {
		return fmt.Errorf("mapping indexes out of sync: %d devices, %d device keys, %d id keys",
			len(m.devices), len(m.slotOf), len(m.byID))
	}
	for slot, d := range m.devices {
		if m.slotOf[d] != slot {
			return fmt.Errorf("device index for %s points at slot %d, want %d", device.Name(d), m.slotOf[d], slot)
		}
		key := spec.Key{Type: d.Type(), ID: m.ids[slot]}
		if m.byID[key] != slot {
			return fmt.Errorf("id index for %s points at slot %d, want %d", key, m.byID[key], slot)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (m *Mapping) Clone() *Mapping {
	c := NewMapping()
	for slot, d := range m.devices {
		_ = c.Bind(d, m.ids[slot])
	}
	c.conflicts = append([]Conflict(nil), m.conflicts...)
	return c
}

func (m *Mapping) addConflict(c Conflict) {
	for _, have := range m.conflicts {
		if have.Device == c.Device && have.WantedID == c.WantedID {
			return
		}
	}
	m.conflicts = append(m.conflicts, c)
}

// retain drops bindings of devices not in keep and rebuilds the indexes.
func (m *Mapping) retain(keep []device.Device) int {
	present := make(map[device.Device]bool, len(keep))
	for _, d := range keep {
		present[d] = true
	}

	devices, ids := m.devices, m.ids
	m.devices, m.ids = nil, nil
	m.slotOf = make(map[device.Device]int)
	m.byID = make(map[spec.Key]int)

	dropped := 0
	for slot, d := range devices {
		if !present[d] {
			dropped++
			continue
		}
		_ = m.Bind(d, ids[slot])
	}
	return dropped
}

func typeIndex(t device.Type) int {
	for i, tt := range device.Types {
		if tt == t {
			return i
		}
	}
	return len(device.Types)
}
