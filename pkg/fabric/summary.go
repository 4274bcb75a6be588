package fabric

import (
	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/verify"
)

// Summary is the serializable view of a Result.
type Summary struct {
	CycleID     string                  `json:"cycle_id"`
	OK          bool                    `json:"ok"`
	Devices     int                     `json:"devices"`
	Mapped      []MappedDevice          `json:"mapped"`
	Mismatches  []verify.MismatchRecord `json:"mismatches,omitempty"`
	Apertures   []ApertureSummary       `json:"apertures,omitempty"`
	Routes      int                     `json:"routes"`
	Paths       int                     `json:"paths"`
	Connections int                     `json:"connections"`
	Unused      int                     `json:"unused_connections"`
	DurationMS  int64                   `json:"duration_ms"`
}

// MappedDevice is one identity binding.
type MappedDevice struct {
	Type       device.Type `json:"type"`
	TopologyID int         `json:"topology_id"`
	Device     string      `json:"device"`
}

// ApertureSummary is one allocated aperture.
type ApertureSummary struct {
	Owner string `json:"owner"`
	Base  uint64 `json:"base"`
	Size  uint64 `json:"size"`
}

// Summary flattens the result for JSON output.
func (r *Result) Summary() Summary {
	s := Summary{
		CycleID:    r.CycleID.String(),
		OK:         r.Routes != nil,
		Devices:    len(r.Devices),
		Mismatches: r.Mismatches,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Mapping != nil {
		for _, e := range r.Mapping.Entries() {
			s.Mapped = append(s.Mapped, MappedDevice{Type: e.Type, TopologyID: e.ID, Device: e.Device.StableID()})
		}
	}
	if r.Apertures != nil {
		for _, a := range r.Apertures.All() {
			s.Apertures = append(s.Apertures, ApertureSummary{Owner: device.Name(a.Owner), Base: a.Base, Size: a.Size})
		}
	}
	if r.Routes != nil {
		s.Routes = len(r.Routes.GetRoutes())
		s.Paths = r.Routes.PathCount()
		for _, c := range r.Routes.Connections() {
			s.Connections++
			if c.Unused {
				s.Unused++
			}
		}
	}
	return s
}
