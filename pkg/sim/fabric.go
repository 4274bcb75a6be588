// Package sim is an in-memory device catalog. It models wiring, address
// ranges and a shortest-path forwarding oracle, and lets tests inject the
// faults real hardware produces: dead links, blocked ingress ports, failing
// forwarding queries and degraded lane grading.
package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// Fabric is a simulated catalog. Devices are reported in the order they were
// added, which stands in for discovery order.
type Fabric struct {
	mu      sync.RWMutex
	devices []*Device
	byID    map[string]*Device
}

var _ device.Catalog = (*Fabric)(nil)

// New returns an empty fabric.
func New() *Fabric {
	return &Fabric{byID: make(map[string]*Device)}
}

// AddDevice adds a device. maxLinks must be in [1,64].
func (f *Fabric) AddDevice(t device.Type, stableID string, maxLinks int) (*Device, error) {
	if maxLinks <= 0 || maxLinks > device.MaxMaskLinks {
		return nil, fmt.Errorf("%s: max_links %d out of range [1,%d]", stableID, maxLinks, device.MaxMaskLinks)
	}
	key := device.NormalizeStableID(stableID)
	if key == "" {
		return nil, fmt.Errorf("empty stable id: %w", util.ErrInvalidInput)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[key]; ok {
		return nil, fmt.Errorf("device %s already exists", stableID)
	}
	d := &Device{
		fabric:   f,
		typ:      t,
		id:       stableID,
		links:    make([]*port, maxLinks),
		ranges:   make(map[device.AddressMode]addrRange),
		blocked:  make(map[int]bool),
		grading:  make(map[int]device.Grading),
		override: make(map[fwdKey][]int),
	}
	f.devices = append(f.devices, d)
	f.byID[key] = d
	return d, nil
}

// MustAddDevice is AddDevice for fixtures; it panics on error.
func (f *Fabric) MustAddDevice(t device.Type, stableID string, maxLinks int) *Device {
	d, err := f.AddDevice(t, stableID, maxLinks)
	if err != nil {
		panic(err)
	}
	return d
}

// Connect wires link la of a to link lb of b.
func (f *Fabric) Connect(a *Device, la int, b *Device, lb int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a.fabric != f || b.fabric != f {
		return fmt.Errorf("connect: device not in this fabric")
	}
	if la < 0 || la >= len(a.links) {
		return fmt.Errorf("connect %s link %d: %w", device.Name(a), la, device.ErrLinkRange)
	}
	if lb < 0 || lb >= len(b.links) {
		return fmt.Errorf("connect %s link %d: %w", device.Name(b), lb, device.ErrLinkRange)
	}
	if a == b && la == lb {
		return fmt.Errorf("connect %s link %d to itself", device.Name(a), la)
	}
	if a.links[la] != nil {
		return fmt.Errorf("connect: %s link %d already wired", device.Name(a), la)
	}
	if b.links[lb] != nil {
		return fmt.Errorf("connect: %s link %d already wired", device.Name(b), lb)
	}
	a.links[la] = &port{peer: b, peerLink: lb}
	b.links[lb] = &port{peer: a, peerLink: la}
	return nil
}

// MustConnect is Connect for fixtures; it panics on error.
func (f *Fabric) MustConnect(a *Device, la int, b *Device, lb int) {
	if err := f.Connect(a, la, b, lb); err != nil {
		panic(err)
	}
}

// Gang wires n consecutive links, a[la..la+n) to b[lb..lb+n).
func (f *Fabric) Gang(a *Device, la int, b *Device, lb int, n int) error {
	for i := 0; i < n; i++ {
		if err := f.Connect(a, la+i, b, lb+i); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect unwires link l of d and its peer.
func (f *Fabric) Disconnect(d *Device, l int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l < 0 || l >= len(d.links) || d.links[l] == nil {
		return
	}
	p := d.links[l]
	p.peer.links[p.peerLink] = nil
	d.links[l] = nil
}

// Devices implements device.Catalog.
func (f *Fabric) Devices() []device.Device {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]device.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out
}

// Lookup implements device.Catalog.
func (f *Fabric) Lookup(stableID string) (device.Device, bool) {
	d, ok := f.Device(stableID)
	if !ok {
		return nil, false
	}
	return d, true
}

// Device returns the simulated device with the given stable id.
func (f *Fabric) Device(stableID string) (*Device, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.byID[device.NormalizeStableID(stableID)]
	return d, ok
}

// Remove takes a device out of the fabric, unwiring its links.
func (f *Fabric) Remove(stableID string) bool {
	d, ok := f.Device(stableID)
	if !ok {
		return false
	}
	for l := range d.links {
		f.Disconnect(d, l)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, device.NormalizeStableID(stableID))
	for i, have := range f.devices {
		if have == d {
			f.devices = append(f.devices[:i], f.devices[i+1:]...)
			break
		}
	}
	return true
}

// owner finds the endpoint whose address range holds base.
func (f *Fabric) owner(base uint64) *Device {
	for _, d := range f.devices {
		if !d.IsEndpoint() {
			continue
		}
		for _, r := range d.ranges {
			if base >= r.base && base-r.base < r.size {
				return d
			}
		}
	}
	return nil
}

// distances is the switch-only hop distance of every device from dst.
// Endpoints other than dst are never traversed.
func (f *Fabric) distances(dst *Device) map[*Device]int {
	dist := map[*Device]int{dst: 0}
	queue := []*Device{dst}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for l, p := range cur.links {
			if !cur.active(l) {
				continue
			}
			if _, seen := dist[p.peer]; seen {
				continue
			}
			dist[p.peer] = dist[cur] + 1
			if !p.peer.IsEndpoint() {
				queue = append(queue, p.peer)
			}
		}
	}
	return dist
}

// Summary describes the fabric in one line per device, for logs.
func (f *Fabric) Summary() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	lines := make([]string, 0, len(f.devices))
	for _, d := range f.devices {
		var wired []int
		for l := range d.links {
			if d.active(l) {
				wired = append(wired, l)
			}
		}
		sort.Ints(wired)
		lines = append(lines, fmt.Sprintf("%s links %s", device.Name(d), util.CompactRange(wired)))
	}
	return lines
}
