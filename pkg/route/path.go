package route

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lwfabric/fabtopo/pkg/device"
)

// Hop is one step of a path: the connection crossed, the device reached and
// the links of that device the traffic arrives on.
type Hop struct {
	Conn   *Connection
	Device device.Device
	Mask   device.LinkMask
}

// Target is one (aperture, traffic class) a path was computed for.
type Target struct {
	FabricBase uint64          `json:"fabric_base"`
	Size       uint64          `json:"size"`
	DataType   device.DataType `json:"data_type"`
}

func targetLess(a, b Target) bool {
	if a.FabricBase != b.FabricBase {
		return a.FabricBase < b.FabricBase
	}
	return a.DataType < b.DataType
}

// Path is an ordered hop sequence from Source to the device of the last hop.
type Path struct {
	Source  device.Device
	Hops    []Hop
	Targets []Target
}

// Destination returns the device the path ends on.
func (p *Path) Destination() device.Device {
	if len(p.Hops) == 0 {
		return p.Source
	}
	return p.Hops[len(p.Hops)-1].Device
}

// Len is the number of devices on the path, source included.
func (p *Path) Len() int {
	return len(p.Hops) + 1
}

// Devices returns the source followed by every device reached.
func (p *Path) Devices() []device.Device {
	devs := make([]device.Device, 0, p.Len())
	devs = append(devs, p.Source)
	for _, h := range p.Hops {
		devs = append(devs, h.Device)
	}
	return devs
}

// Visits reports whether d is on the path.
func (p *Path) Visits(d device.Device) bool {
	if p.Source == d {
		return true
	}
	for _, h := range p.Hops {
		if h.Device == d {
			return true
		}
	}
	return false
}

// extend returns a copy of p with h appended.
func (p *Path) extend(h Hop) *Path {
	hops := make([]Hop, len(p.Hops), len(p.Hops)+1)
	copy(hops, p.Hops)
	return &Path{
		Source:  p.Source,
		Hops:    append(hops, h),
		Targets: p.Targets,
	}
}

// Validate checks that consecutive hops share a device, every intermediate
// device is a switch, the last one is an endpoint and every ingress mask is
// a non-empty subset of its connection's links.
func (p *Path) Validate() error {
	if p.Source == nil || !p.Source.IsEndpoint() {
		return fmt.Errorf("path source %s is not an endpoint", device.Name(p.Source))
	}
	if len(p.Hops) == 0 {
		return fmt.Errorf("path from %s has no hops", device.Name(p.Source))
	}
	prev := p.Source
	for i, h := range p.Hops {
		if h.Conn == nil || !h.Conn.Has(prev) || h.Conn.Peer(prev) != h.Device {
			return fmt.Errorf("hop %d does not join %s to %s", i, device.Name(prev), device.Name(h.Device))
		}
		if h.Mask == 0 {
			return fmt.Errorf("hop %d to %s has an empty link mask", i, device.Name(h.Device))
		}
		if h.Mask&^h.Conn.Links(h.Device) != 0 {
			return fmt.Errorf("hop %d mask %s is not within %s", i, h.Mask, h.Conn)
		}
		last := i == len(p.Hops)-1
		if !last && h.Device.IsEndpoint() {
			return fmt.Errorf("hop %d passes through endpoint %s", i, device.Name(h.Device))
		}
		if last && !h.Device.IsEndpoint() {
			return fmt.Errorf("path ends on switch %s", device.Name(h.Device))
		}
		prev = h.Device
	}
	return nil
}

// signature identifies the hop sequence; paths with equal signatures differ
// only in their targets.
func (p *Path) signature() string {
	var b strings.Builder
	for _, h := range p.Hops {
		fmt.Fprintf(&b, "%d:%x/", h.Conn.ID, uint64(h.Mask))
	}
	return b.String()
}

func (p *Path) addTargets(ts []Target) {
	for _, t := range ts {
		dup := false
		for _, have := range p.Targets {
			if have == t {
				dup = true
				break
			}
		}
		if !dup {
			p.Targets = append(p.Targets, t)
		}
	}
	sort.Slice(p.Targets, func(i, j int) bool { return targetLess(p.Targets[i], p.Targets[j]) })
}

func (p *Path) String() string {
	var b strings.Builder
	b.WriteString(device.Name(p.Source))
	prev := p.Source
	for _, h := range p.Hops {
		fmt.Fprintf(&b, " =[%s]=> %s[%s]", h.Conn.Links(prev), device.Name(h.Device), h.Mask)
		prev = h.Device
	}
	return b.String()
}

// Route is every path from Source to Dest.
type Route struct {
	Source device.Device
	Dest   device.Device
	Paths  []*Path
}

// Uses reports whether d is the source, the destination or a hop of any path.
func (r *Route) Uses(d device.Device) bool {
	if r.Source == d || r.Dest == d {
		return true
	}
	for _, p := range r.Paths {
		if p.Visits(d) {
			return true
		}
	}
	return false
}

// Targets returns the union of the paths' targets.
func (r *Route) Targets() []Target {
	merged := &Path{}
	for _, p := range r.Paths {
		merged.addTargets(p.Targets)
	}
	return merged.Targets
}

// consolidate merges paths whose hop sequences are identical.
func (r *Route) consolidate() {
	var out []*Path
	seen := make(map[string]*Path)
	for _, p := range r.Paths {
		sig := p.signature()
		if have, ok := seen[sig]; ok {
			have.addTargets(p.Targets)
			continue
		}
		merged := &Path{Source: p.Source, Hops: p.Hops}
		merged.addTargets(p.Targets)
		seen[sig] = merged
		out = append(out, merged)
	}
	r.Paths = out
}
