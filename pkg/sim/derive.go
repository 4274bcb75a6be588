package sim

import (
	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/spec"
)

// DeriveSpec writes the specification this fabric satisfies exactly: ids
// are assigned per type in discovery order, every device carries its stable
// id as physical_id, and every active switch port expects what it is wired
// to. Down links are left out.
func (f *Fabric) DeriveSpec() *spec.FabricSpecFile {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make(map[*Device]int, len(f.devices))
	next := make(map[device.Type]int)
	for _, d := range f.devices {
		ids[d] = next[d.typ]
		next[d.typ]++
	}

	file := &spec.FabricSpecFile{
		Version:     "1.0",
		Description: "derived from simulated fabric",
		Devices:     make(map[device.Type][]*spec.DeviceEntry),
	}
	for _, d := range f.devices {
		e := &spec.DeviceEntry{
			ID:         ids[d],
			PhysicalID: d.id,
			MaxLinks:   len(d.links),
		}
		if d.typ == device.TypeSwitch {
			e.Ports = make(map[int]*spec.PeerRef)
			for l, p := range d.links {
				if !d.active(l) {
					continue
				}
				e.Ports[l] = &spec.PeerRef{Type: p.peer.typ, ID: ids[p.peer], Link: p.peerLink}
			}
		}
		for mode, r := range d.ranges {
			if !d.IsEndpoint() {
				break
			}
			if e.AddressRanges == nil {
				e.AddressRanges = make(map[device.AddressMode]*spec.AddressRange)
			}
			e.AddressRanges[mode] = &spec.AddressRange{Base: r.base, Size: r.size}
		}
		file.Devices[d.typ] = append(file.Devices[d.typ], e)
	}
	return file
}
