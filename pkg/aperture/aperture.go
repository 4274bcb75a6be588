// Package aperture carves each endpoint's address range into the fixed-size
// fabric apertures that switches route on.
package aperture

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/identity"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// DefaultGranularity is the aperture size when the fabric declares none.
const DefaultGranularity = uint64(64) << 30

// FabricAperture is one contiguous address region owned by an endpoint.
type FabricAperture struct {
	Base  uint64        `json:"base"`
	Size  uint64        `json:"size"`
	Owner device.Device `json:"-"`
}

// End returns the first address past the aperture.
func (a FabricAperture) End() uint64 {
	return a.Base + a.Size
}

// Contains reports whether addr lies in the aperture.
func (a FabricAperture) Contains(addr uint64) bool {
	return addr >= a.Base && addr-a.Base < a.Size
}

// Overlaps reports whether a and b share any address.
func (a FabricAperture) Overlaps(b FabricAperture) bool {
	return a.Base < b.End() && b.Base < a.End()
}

func (a FabricAperture) String() string {
	return fmt.Sprintf("0x%x+%s", a.Base, humanize.IBytes(a.Size))
}

// Map holds the apertures of every allocated endpoint.
type Map struct {
	byDevice map[device.Device][]FabricAperture
	all      []FabricAperture
}

// ByDevice returns d's apertures in increasing base order.
func (m *Map) ByDevice(d device.Device) []FabricAperture {
	return m.byDevice[d]
}

// All returns every aperture sorted by base.
func (m *Map) All() []FabricAperture {
	return m.all
}

// Len returns the number of apertures.
func (m *Map) Len() int {
	return len(m.all)
}

// Devices returns the endpoints holding apertures, sorted.
func (m *Map) Devices() []device.Device {
	devs := make([]device.Device, 0, len(m.byDevice))
	for d := range m.byDevice {
		devs = append(devs, d)
	}
	device.SortDevices(devs)
	return devs
}

// Owner returns the endpoint whose aperture holds addr.
func (m *Map) Owner(addr uint64) (device.Device, bool) {
	i := sort.Search(len(m.all), func(i int) bool { return m.all[i].End() > addr })
	if i < len(m.all) && m.all[i].Contains(addr) {
		return m.all[i].Owner, true
	}
	return nil, false
}

// Split cuts base+size into gran-sized apertures without an owner. The last
// one is shorter when size is not a multiple of gran. Ranges reaching the top
// of the address space do not wrap.
func Split(base, size, gran uint64) []FabricAperture {
	if size == 0 || gran == 0 {
		return nil
	}
	aps := make([]FabricAperture, 0, (size-1)/gran+1)
	for off := uint64(0); ; off += gran {
		if size-off <= gran {
			return append(aps, FabricAperture{Base: base + off, Size: size - off})
		}
		aps = append(aps, FabricAperture{Base: base + off, Size: gran})
	}
}

// Allocator assigns apertures to mapped endpoints.
type Allocator struct {
	// Spec supplies fallback ranges for devices that report none. May be nil.
	Spec *spec.Spec
	// Granularity is the aperture size; 0 selects DefaultGranularity.
	Granularity uint64
	Log         *logrus.Entry
}

// AllocateApertures is a one-shot Allocator run.
func AllocateApertures(devices []device.Device, m *identity.Mapping, s *spec.Spec, granularity uint64) (*Map, error) {
	a := &Allocator{Spec: s, Granularity: granularity}
	return a.Allocate(devices, m)
}

// Allocate reads each mapped endpoint's address range, preferring the local
// mode over the global one and falling back to the specification, and
// splits it into granularity-sized apertures. The last aperture of a range
// that is not a multiple of the granularity is shorter.
func (a *Allocator) Allocate(devices []device.Device, m *identity.Mapping) (*Map, error) {
	gran := a.Granularity
	if gran == 0 {
		gran = DefaultGranularity
	}
	if err := spec.CheckGranularity(gran); err != nil {
		return nil, err
	}
	log := a.Log
	if log == nil {
		log = util.WithOperation("allocate")
	}

	out := &Map{byDevice: make(map[device.Device][]FabricAperture)}
	for _, d := range devices {
		if !d.IsEndpoint() {
			continue
		}
		id, ok := m.IDOf(d)
		if !ok {
			continue
		}
		base, size, mode, err := a.addressRange(d, id)
		if err != nil {
			return nil, err
		}

		aps := Split(base, size, gran)
		for i := range aps {
			aps[i].Owner = d
		}
		out.byDevice[d] = aps
		out.all = append(out.all, aps...)
		log.WithField("device", device.Name(d)).Debugf("%s range 0x%x+%s: %d apertures",
			mode, base, humanize.IBytes(size), len(aps))
	}

	sort.Slice(out.all, func(i, j int) bool { return out.all[i].Base < out.all[j].Base })
	for i := 1; i < len(out.all); i++ {
		prev, cur := out.all[i-1], out.all[i]
		if prev.Overlaps(cur) {
			return nil, fmt.Errorf("%s of %s and %s of %s: %w",
				prev, device.Name(prev.Owner), cur, device.Name(cur.Owner), util.ErrApertureOverlap)
		}
	}
	return out, nil
}

func (a *Allocator) addressRange(d device.Device, id int) (uint64, uint64, device.AddressMode, error) {
	for _, mode := range []device.AddressMode{device.AddressLocal, device.AddressGlobal} {
		base, err := d.AddressRangeBase(mode)
		if errors.Is(err, device.ErrNoAddressRange) {
			continue
		}
		if err != nil {
			return 0, 0, mode, fmt.Errorf("%s %s range base: %w", device.Name(d), mode, err)
		}
		size, err := d.AddressRangeSize(mode)
		if err != nil {
			return 0, 0, mode, fmt.Errorf("%s %s range size: %w", device.Name(d), mode, err)
		}
		if size == 0 || base+size < base {
			return 0, 0, mode, fmt.Errorf("%s %s range 0x%x+0x%x: %w", device.Name(d), mode, base, size, util.ErrInvalidInput)
		}
		return base, size, mode, nil
	}

	if a.Spec != nil {
		for _, mode := range []device.AddressMode{device.AddressLocal, device.AddressGlobal} {
			if r, ok := a.Spec.AddressRange(d.Type(), id, mode); ok {
				return r.Base, r.Size, mode, nil
			}
		}
	}
	return 0, 0, "", fmt.Errorf("%s (%s%d): %w", device.Name(d), d.Type(), id, util.ErrMissingAddressRange)
}
