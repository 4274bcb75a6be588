package identity

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// Pass names, used in logs and conflict records.
const (
	PassTrivial  = "trivial"
	PassPhysical = "physical"
	PassForced   = "forced"
)

// Mapper assigns topology ids to devices. It keeps its Mapping between
// calls, so running it again over the same devices only fills gaps.
type Mapper struct {
	policy  spec.MatchPolicy
	mapping *Mapping
	log     *logrus.Entry
}

// NewMapper creates a mapper with an empty mapping.
func NewMapper(policy spec.MatchPolicy) *Mapper {
	return &Mapper{
		policy:  policy,
		mapping: NewMapping(),
		log:     util.WithOperation("map"),
	}
}

// SetLogger replaces the mapper's log entry.
func (m *Mapper) SetLogger(log *logrus.Entry) {
	m.log = log.WithField("operation", "map")
}

// SetPolicy changes the match policy for subsequent runs.
func (m *Mapper) SetPolicy(policy spec.MatchPolicy) {
	m.policy = policy
}

// Mapping returns the mapper's live mapping.
func (m *Mapper) Mapping() *Mapping {
	return m.mapping
}

// Reset discards all bindings.
func (m *Mapper) Reset() {
	m.mapping = NewMapping()
}

// AssignIdentities is a one-shot run of a fresh Mapper.
func AssignIdentities(devices []device.Device, s *spec.Spec, policy spec.MatchPolicy) (*Mapping, error) {
	return NewMapper(policy).AssignIdentities(devices, s)
}

// AssignIdentities runs the trivial, physical-info and (under
// permissive-forced) forced passes over devices, which must be in discovery
// order. Bindings of devices no longer present are dropped first, and
// conflicts recorded by earlier runs are cleared; the passes record them
// again if they still hold.
//
// Under the strict policy the first conflict aborts the run, and ids left
// unbound afterwards produce ErrUnmappedTopologyID (or ErrDeviceCountMismatch
// when only surplus devices remain). Under permissive policies conflicts and
// gaps are logged and the mapping is returned without error.
func (m *Mapper) AssignIdentities(devices []device.Device, s *spec.Spec) (*Mapping, error) {
	if dropped := m.mapping.retain(devices); dropped > 0 {
		m.log.Debugf("dropped %d bindings of devices no longer present", dropped)
	}
	m.mapping.conflicts = nil

	byType := make(map[device.Type][]device.Device)
	for _, d := range devices {
		byType[d.Type()] = append(byType[d.Type()], d)
	}

	if err := m.trivialPass(s, byType); err != nil {
		return m.mapping, err
	}
	if err := m.physicalPass(s, devices); err != nil {
		return m.mapping, err
	}
	if m.policy.Forces() {
		m.forcedPass(s, byType)
	}

	return m.mapping, m.finish(s, byType)
}

func (m *Mapper) trivialPass(s *spec.Spec, byType map[device.Type][]device.Device) error {
	for _, t := range s.Types() {
		if s.Count(t) != 1 || len(byType[t]) != 1 {
			continue
		}
		d := byType[t][0]
		if m.mapping.IsMapped(d) {
			continue
		}
		if err := m.bind(d, s.Entries(t)[0].ID, PassTrivial); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) physicalPass(s *spec.Spec, devices []device.Device) error {
	index := make(map[string]device.Device, len(devices))
	for _, d := range devices {
		index[device.NormalizeStableID(d.StableID())] = d
	}

	for _, t := range s.Types() {
		for _, e := range s.Entries(t) {
			if e.PhysicalID == "" {
				continue
			}
			d, ok := index[device.NormalizeStableID(e.PhysicalID)]
			if !ok {
				m.log.Debugf("%s%d: no device with physical id %s", t, e.ID, e.PhysicalID)
				continue
			}
			if d.Type() != t {
				m.log.Warnf("%s%d: physical id %s belongs to a %s", t, e.ID, e.PhysicalID, d.Type())
				continue
			}
			if id, ok := m.mapping.IDOf(d); ok && id == e.ID {
				continue
			}
			if err := m.bind(d, e.ID, PassPhysical); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Mapper) forcedPass(s *spec.Spec, byType map[device.Type][]device.Device) {
	for _, t := range s.Types() {
		for _, id := range s.IDs(t) {
			if m.mapping.IsIDMapped(t, id) {
				continue
			}
			for _, d := range byType[t] {
				if m.mapping.IsMapped(d) {
					continue
				}
				_ = m.bind(d, id, PassForced)
				break
			}
		}
	}
}

// bind records a conflict instead of failing unless the policy is strict.
func (m *Mapper) bind(d device.Device, id int, pass string) error {
	err := m.mapping.Bind(d, id)
	if err == nil {
		m.log.WithField("device", device.Name(d)).Debugf("%s pass: bound %s%d", pass, d.Type(), id)
		return nil
	}

	c := Conflict{Device: d, Type: d.Type(), HeldID: -1, WantedID: id, Pass: pass}
	if held, ok := m.mapping.IDOf(d); ok {
		c.HeldID = held
	} else if holder, ok := m.mapping.DeviceOf(d.Type(), id); ok {
		c.Holder = holder
	}
	m.mapping.addConflict(c)

	if m.policy.IsStrict() {
		return err
	}
	m.log.WithField("device", device.Name(d)).Warnf("%s pass: skipping conflicting assignment: %s", pass, c)
	return nil
}

func (m *Mapper) finish(s *spec.Spec, byType map[device.Type][]device.Device) error {
	var unmappedIDs, surplus []error

	for _, t := range s.Types() {
		var ids []int
		for _, id := range s.IDs(t) {
			if !m.mapping.IsIDMapped(t, id) {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			unmappedIDs = append(unmappedIDs, util.NewMappingError(util.ErrUnmappedTopologyID, string(t), ids, ""))
		}

		var extra int
		for _, d := range byType[t] {
			if !m.mapping.IsMapped(d) {
				extra++
			}
		}
		if extra > 0 {
			surplus = append(surplus, util.NewMappingError(util.ErrDeviceCountMismatch, string(t), nil,
				fmt.Sprintf("spec declares %d, found %d, %d left without an id", s.Count(t), len(byType[t]), extra)))
		}
	}

	if !m.policy.IsStrict() {
		for _, err := range append(unmappedIDs, surplus...) {
			m.log.Warn(err.Error())
		}
		return nil
	}
	if len(unmappedIDs) > 0 {
		return errors.Join(unmappedIDs...)
	}
	if len(surplus) > 0 {
		return errors.Join(surplus...)
	}
	return nil
}
