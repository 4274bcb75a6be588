package verify

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/identity"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// Validator checks a mapped fabric against its specification.
type Validator struct {
	Spec   *spec.Spec
	Policy spec.MatchPolicy
	Log    *logrus.Entry
}

// Validate is a one-shot Validator run.
func Validate(devices []device.Device, s *spec.Spec, m *identity.Mapping, policy spec.MatchPolicy) (bool, []MismatchRecord) {
	v := &Validator{Spec: s, Policy: policy}
	return v.Validate(devices, m)
}

func (v *Validator) log() *logrus.Entry {
	if v.Log != nil {
		return v.Log
	}
	return util.WithOperation("validate")
}

func (v *Validator) severity() Severity {
	if v.Policy.IsStrict() {
		return SeverityError
	}
	return SeverityWarning
}

// Validate reports mapping gaps and, for every mapped switch, each port whose
// detected peer differs from the declared one. Under the strict policy any
// record makes the result not ok; otherwise records are warnings.
func (v *Validator) Validate(devices []device.Device, m *identity.Mapping) (bool, []MismatchRecord) {
	records := v.MappingRecords(devices, m)

	for _, d := range devices {
		if d.Type() != device.TypeSwitch {
			continue
		}
		id, ok := m.IDOf(d)
		if !ok {
			continue
		}
		records = append(records, v.checkSwitch(d, id, m)...)
	}

	Sort(records)
	v.report(records)
	return !v.Policy.IsStrict() || len(records) == 0, records
}

// MappingRecords reports the identity-level discrepancies only: refused
// assignments, devices of a declared type without an id and declared ids
// without a device.
func (v *Validator) MappingRecords(devices []device.Device, m *identity.Mapping) []MismatchRecord {
	sev := v.severity()
	var records []MismatchRecord

	for _, c := range m.Conflicts() {
		r := newRecord(KindMultipleIDs, sev, c.Device, c.HeldID, -1)
		if c.HeldID >= 0 {
			r.IDs = []int{c.HeldID, c.WantedID}
		} else {
			r.IDs = []int{c.WantedID}
		}
		r.Message = c.String()
		records = append(records, r)
	}

	for _, d := range devices {
		if !v.Spec.Declares(d.Type()) || m.IsMapped(d) {
			continue
		}
		r := newRecord(KindUnassigned, sev, d, -1, -1)
		r.Message = fmt.Sprintf("no %s id assigned", d.Type())
		records = append(records, r)
	}

	for _, t := range v.Spec.Types() {
		var ids []int
		for _, id := range v.Spec.IDs(t) {
			if !m.IsIDMapped(t, id) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		r := newRecord(KindUnmappedIDs, sev, nil, -1, -1)
		r.DeviceType = t
		r.IDs = ids
		r.Message = fmt.Sprintf("%s ids %s have no device", t, util.CompactRange(ids))
		records = append(records, r)
	}

	return records
}

func (v *Validator) checkSwitch(sw device.Device, swID int, m *identity.Mapping) []MismatchRecord {
	sev := v.severity()
	var records []MismatchRecord

	infos, err := sw.GetDetectedEndpointInfo()
	if err != nil {
		v.log().WithField("device", device.Name(sw)).Warnf("detected wiring unavailable: %v", err)
		infos = nil
	}
	byLink := make(map[int]device.EndpointInfo, len(infos))
	for _, info := range infos {
		byLink[info.Link] = info
	}

	for port := 0; port < sw.MaxLinks(); port++ {
		info, have := byLink[port]
		active := have && info.Active
		want, declared := v.Spec.ExpectedPeer(swID, port)

		if !declared {
			if active {
				r := newRecord(KindPortMismatch, sev, sw, swID, port)
				r.Detected = describeDetected(info, m)
				r.Message = fmt.Sprintf("unexpected connection to %s", r.Detected)
				records = append(records, r)
			}
			continue
		}

		expected := want.String()
		if !active || info.Peer == nil {
			r := newRecord(KindPeerNotFound, sev, sw, swID, port)
			r.Expected = expected
			switch {
			case err != nil:
				r.Message = fmt.Sprintf("expected %s, wiring query failed: %v", expected, err)
			case active:
				r.Detected = describeDetected(info, m)
				r.Message = fmt.Sprintf("expected %s, detected peer %s is not in the catalog", expected, r.Detected)
			default:
				r.Message = fmt.Sprintf("expected %s, link is down", expected)
			}
			if g, ok := sw.(device.Grader); ok {
				if grading, gerr := g.LinkGrading(port); gerr == nil && !grading.IsZero() {
					r.Grading = &grading
				}
			}
			records = append(records, r)
			continue
		}

		expDev, mapped := m.DeviceOf(want.Type, want.ID)
		if info.PeerType == want.Type && info.PeerLink == want.Link && mapped && info.Peer == expDev {
			continue
		}
		r := newRecord(KindPortMismatch, sev, sw, swID, port)
		r.Expected = expected
		r.Detected = describeDetected(info, m)
		r.Message = fmt.Sprintf("detected %s, expected %s", r.Detected, expected)
		if !mapped {
			r.Message += " (expected device has no id)"
		}
		records = append(records, r)
	}

	return records
}

// describeDetected renders a detected peer as "gpu1:0", or "gpu(<stable id>):0"
// when the peer holds no id.
func describeDetected(info device.EndpointInfo, m *identity.Mapping) string {
	if info.Peer != nil {
		if id, ok := m.IDOf(info.Peer); ok {
			return fmt.Sprintf("%s%d:%d", info.PeerType, id, info.PeerLink)
		}
	}
	return fmt.Sprintf("%s(%s):%d", info.PeerType, info.PeerID, info.PeerLink)
}

func (v *Validator) report(records []MismatchRecord) {
	log := v.log()
	for _, r := range records {
		entry := log.WithField("kind", string(r.Kind))
		if r.Device != "" {
			entry = entry.WithField("device", r.Device)
		}
		if r.Link >= 0 {
			entry = entry.WithField("link", r.Link)
		}
		if r.IsError() {
			entry.Error(r.Message)
		} else {
			entry.Warn(r.Message)
		}
	}
	if len(records) > 0 {
		log.Infof("validation: %s", SummaryLine(records))
	}
}
