package sim

import (
	"fmt"
	"sort"

	"github.com/lwfabric/fabtopo/pkg/device"
)

type port struct {
	peer     *Device
	peerLink int
	down     bool
}

type addrRange struct {
	base, size uint64
}

type fwdKey struct {
	in   int
	dt   device.DataType
	dest *Device
}

// Device is a simulated GPU, switch or bridge.
type Device struct {
	fabric *Fabric
	typ    device.Type
	id     string
	links  []*port
	ranges map[device.AddressMode]addrRange

	blocked   map[int]bool
	oracleErr error
	grading   map[int]device.Grading
	override  map[fwdKey][]int
}

var (
	_ device.Device = (*Device)(nil)
	_ device.Grader = (*Device)(nil)
)

func (d *Device) Type() device.Type { return d.typ }
func (d *Device) IsEndpoint() bool  { return d.typ != device.TypeSwitch }
func (d *Device) StableID() string  { return d.id }
func (d *Device) MaxLinks() int     { return len(d.links) }

func (d *Device) String() string { return device.Name(d) }

// IsLinkActive reports whether link is wired and not down.
func (d *Device) IsLinkActive(link int) bool {
	d.fabric.mu.RLock()
	defer d.fabric.mu.RUnlock()
	return d.active(link)
}

func (d *Device) active(link int) bool {
	if link < 0 || link >= len(d.links) {
		return false
	}
	p := d.links[link]
	return p != nil && !p.down
}

// GetRemoteEndpoint returns the device and link on the far end of link.
func (d *Device) GetRemoteEndpoint(link int) (device.Device, int, error) {
	d.fabric.mu.RLock()
	defer d.fabric.mu.RUnlock()
	if link < 0 || link >= len(d.links) {
		return nil, 0, fmt.Errorf("%s link %d: %w", d, link, device.ErrLinkRange)
	}
	if !d.active(link) {
		return nil, 0, fmt.Errorf("%s link %d: %w", d, link, device.ErrLinkInactive)
	}
	p := d.links[link]
	return p.peer, p.peerLink, nil
}

// GetOutputLinks answers a forwarding query. Traffic leaves on every active
// link, other than the ingress link, whose peer is either the owner of
// fabricBase or a switch one hop closer to it.
func (d *Device) GetOutputLinks(inputLink int, fabricBase uint64, dt device.DataType) ([]int, error) {
	d.fabric.mu.RLock()
	defer d.fabric.mu.RUnlock()

	if d.IsEndpoint() {
		return nil, device.ErrNotSwitch
	}
	if d.oracleErr != nil {
		return nil, d.oracleErr
	}
	if !d.active(inputLink) {
		return nil, fmt.Errorf("%s link %d: %w", d, inputLink, device.ErrLinkInactive)
	}
	if d.blocked[inputLink] {
		return nil, nil
	}

	dst := d.fabric.owner(fabricBase)
	if dst == nil {
		return nil, nil
	}
	if out, ok := d.override[fwdKey{inputLink, dt, dst}]; ok {
		return append([]int(nil), out...), nil
	}

	dist := d.fabric.distances(dst)
	mine, ok := dist[d]
	if !ok {
		return nil, nil
	}
	var out []int
	for l, p := range d.links {
		if l == inputLink || !d.active(l) {
			continue
		}
		if p.peer == dst {
			out = append(out, l)
			continue
		}
		if p.peer.IsEndpoint() {
			continue
		}
		if pd, ok := dist[p.peer]; ok && pd == mine-1 {
			out = append(out, l)
		}
	}
	return out, nil
}

// GetDetectedEndpointInfo reports one entry per link.
func (d *Device) GetDetectedEndpointInfo() ([]device.EndpointInfo, error) {
	d.fabric.mu.RLock()
	defer d.fabric.mu.RUnlock()
	infos := make([]device.EndpointInfo, len(d.links))
	for l, p := range d.links {
		info := device.EndpointInfo{Link: l, Active: d.active(l), PeerLink: -1}
		if info.Active {
			info.PeerID = p.peer.id
			info.PeerType = p.peer.typ
			info.PeerLink = p.peerLink
			info.Peer = p.peer
		}
		infos[l] = info
	}
	return infos, nil
}

func (d *Device) AddressRangeBase(mode device.AddressMode) (uint64, error) {
	d.fabric.mu.RLock()
	defer d.fabric.mu.RUnlock()
	r, ok := d.ranges[mode]
	if !ok {
		return 0, fmt.Errorf("%s %s: %w", d, mode, device.ErrNoAddressRange)
	}
	return r.base, nil
}

func (d *Device) AddressRangeSize(mode device.AddressMode) (uint64, error) {
	d.fabric.mu.RLock()
	defer d.fabric.mu.RUnlock()
	r, ok := d.ranges[mode]
	if !ok {
		return 0, fmt.Errorf("%s %s: %w", d, mode, device.ErrNoAddressRange)
	}
	return r.size, nil
}

// LinkGrading returns the injected lane grading for link.
func (d *Device) LinkGrading(link int) (device.Grading, error) {
	d.fabric.mu.RLock()
	defer d.fabric.mu.RUnlock()
	if link < 0 || link >= len(d.links) {
		return device.Grading{}, fmt.Errorf("%s link %d: %w", d, link, device.ErrLinkRange)
	}
	return d.grading[link], nil
}

// ============================================================================
// Configuration and fault injection
// ============================================================================

// SetAddressRange sets the range reported for mode.
func (d *Device) SetAddressRange(mode device.AddressMode, base, size uint64) *Device {
	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()
	d.ranges[mode] = addrRange{base: base, size: size}
	return d
}

// SetLinkDown marks link (and its peer side) down or back up.
func (d *Device) SetLinkDown(link int, down bool) {
	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()
	if link < 0 || link >= len(d.links) || d.links[link] == nil {
		return
	}
	p := d.links[link]
	p.down = down
	p.peer.links[p.peerLink].down = down
}

// BlockIngress makes forwarding queries on link return an empty set.
func (d *Device) BlockIngress(links ...int) {
	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()
	for _, l := range links {
		d.blocked[l] = true
	}
}

// FailOracle makes every forwarding query on d fail with err. nil clears it.
func (d *Device) FailOracle(err error) {
	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()
	d.oracleErr = err
}

// SetGrading sets the lane grading reported for link.
func (d *Device) SetGrading(link int, g device.Grading) {
	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()
	d.grading[link] = g
}

// SetForwarding pins the output set for traffic of class dt toward dest
// arriving on link in, replacing the computed one.
func (d *Device) SetForwarding(in int, dt device.DataType, dest *Device, out ...int) {
	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()
	sorted := append([]int(nil), out...)
	sort.Ints(sorted)
	d.override[fwdKey{in, dt, dest}] = sorted
}
