package statedb

import (
	"fmt"

	"github.com/lwfabric/fabtopo/pkg/aperture"
	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/spec"
)

// Capture records any catalog's devices into a snapshot. Forwarding tables
// are sampled at every granularity-aligned base of every endpoint's address
// range, which is where apertures fall.
func Capture(devices []device.Device, granularity uint64) (*Snapshot, error) {
	if granularity == 0 {
		return nil, fmt.Errorf("capture needs a non-zero granularity")
	}
	if err := spec.CheckGranularity(granularity); err != nil {
		return nil, err
	}
	s := NewSnapshot()
	var bases []uint64

	for _, d := range devices {
		id := d.StableID()
		s.Devices[id] = DeviceEntry{Type: d.Type(), MaxLinks: d.MaxLinks()}

		grader, _ := d.(device.Grader)
		links := make(map[int]LinkEntry)
		for l := 0; l < d.MaxLinks(); l++ {
			e := LinkEntry{PeerLink: -1}
			if grader != nil {
				if g, err := grader.LinkGrading(l); err == nil {
					e.Grading = g
				}
			}
			if d.IsLinkActive(l) {
				peer, pl, err := d.GetRemoteEndpoint(l)
				if err == nil && peer != nil {
					e.Up, e.Peer, e.PeerLink = true, peer.StableID(), pl
				}
			}
			if e.Up || !e.Grading.IsZero() {
				links[l] = e
			}
		}
		if len(links) > 0 {
			s.Links[id] = links
		}

		for _, mode := range []device.AddressMode{device.AddressLocal, device.AddressGlobal} {
			base, err := d.AddressRangeBase(mode)
			if err != nil {
				continue
			}
			size, err := d.AddressRangeSize(mode)
			if err != nil || size == 0 {
				continue
			}
			if s.Addrs[id] == nil {
				s.Addrs[id] = make(map[device.AddressMode]AddrEntry)
			}
			s.Addrs[id][mode] = AddrEntry{Base: base, Size: size}
		}
		if r, ok := preferredRange(s.Addrs[id]); ok && d.IsEndpoint() {
			for _, ap := range aperture.Split(r.Base, r.Size, granularity) {
				bases = append(bases, ap.Base)
			}
		}
	}

	for _, d := range devices {
		if d.Type() != device.TypeSwitch {
			continue
		}
		for _, in := range device.ActiveLinks(d) {
			for _, dt := range device.DataTypes {
				table := make(map[uint64][]int)
				for _, base := range bases {
					out, err := d.GetOutputLinks(in, base, dt)
					if err != nil {
						return nil, fmt.Errorf("capturing %s link %d: %w", device.Name(d), in, err)
					}
					if len(out) > 0 {
						table[base] = out
					}
				}
				if len(table) > 0 {
					s.Fwd[FwdKey{Device: d.StableID(), In: in, DataType: dt}] = table
				}
			}
		}
	}
	return s, nil
}

func preferredRange(modes map[device.AddressMode]AddrEntry) (AddrEntry, bool) {
	if r, ok := modes[device.AddressLocal]; ok {
		return r, true
	}
	r, ok := modes[device.AddressGlobal]
	return r, ok
}
