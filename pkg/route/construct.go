package route

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lwfabric/fabtopo/pkg/aperture"
	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/identity"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// Constructor builds a Store from a mapped, allocated fabric.
type Constructor struct {
	Devices   []device.Device
	Mapping   *identity.Mapping
	Apertures *aperture.Map
	Log       *logrus.Entry

	store *Store
	known map[device.Device]bool
}

// Construct is a one-shot Constructor run.
func Construct(ctx context.Context, devices []device.Device, m *identity.Mapping, apertures *aperture.Map) (*Store, error) {
	c := &Constructor{Devices: devices, Mapping: m, Apertures: apertures}
	return c.Run(ctx)
}

// lane is one physical link seen from the near device: the near link and the
// peer link it lands on.
type lane struct {
	near, far int
}

// group is a set of lanes from one device to one peer.
type group struct {
	peer  device.Device
	lanes []lane
}

// item is a worklist entry: a path that has reached a switch, and the links
// that switch forwards the path's traffic on.
type item struct {
	path *Path
	at   device.Device
	out  []int
}

// Run builds paths for every mapped endpoint toward every aperture it does
// not own, in both traffic classes, then consolidates the store. Any
// forwarding query failure aborts the run and no store is returned.
func (c *Constructor) Run(ctx context.Context) (*Store, error) {
	if c.Log == nil {
		c.Log = util.WithOperation("routes")
	}
	c.store = NewStore()
	c.known = make(map[device.Device]bool, len(c.Devices))
	for _, d := range c.Devices {
		c.known[d] = true
	}

	var found int
	for _, src := range c.Devices {
		if !src.IsEndpoint() || !c.Mapping.IsMapped(src) {
			continue
		}
		for _, ap := range c.Apertures.All() {
			if ap.Owner == src {
				continue
			}
			for _, dt := range device.DataTypes {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				n, err := c.expand(src, ap, dt)
				if err != nil {
					return nil, err
				}
				found += n
			}
		}
	}

	if err := c.consolidate(); err != nil {
		return nil, err
	}
	c.store.seal()
	c.Log.Infof("built %d routes (%d paths from %d raw) over %d connections",
		len(c.store.routes), c.store.PathCount(), found, len(c.store.conns))
	return c.store, nil
}

// expand runs the breadth-first search for one (source, aperture, class)
// and returns how many valid paths it filed.
func (c *Constructor) expand(src device.Device, ap aperture.FabricAperture, dt device.DataType) (int, error) {
	target := Target{FabricBase: ap.Base, Size: ap.Size, DataType: dt}
	root := &Path{Source: src, Targets: []Target{target}}

	var queue []item
	found := 0

	for _, g := range c.peerGroups(src, device.ActiveLinks(src)) {
		if g.peer.IsEndpoint() {
			if g.peer != ap.Owner {
				continue
			}
			n, err := c.finish(root, src, g)
			if err != nil {
				return found, err
			}
			found += n
			continue
		}
		next, err := c.branch(root, src, g, ap.Base, dt)
		if err != nil {
			return found, err
		}
		queue = append(queue, next...)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.at.IsEndpoint() {
			return found, fmt.Errorf("path %s: frontier %s is an endpoint", cur.path, device.Name(cur.at))
		}

		for _, g := range c.peerGroups(cur.at, cur.out) {
			if g.peer.IsEndpoint() {
				// Every link into the same endpoint is one logical hop.
				n, err := c.finish(cur.path, cur.at, g)
				if err != nil {
					return found, err
				}
				found += n
				continue
			}
			next, err := c.branch(cur.path, cur.at, g, ap.Base, dt)
			if err != nil {
				return found, err
			}
			queue = append(queue, next...)
		}
	}
	return found, nil
}

// branch queries the switch at the far end of g once per lane and extends
// path by one hop per distinct output set. Lanes with no output are pruned.
func (c *Constructor) branch(path *Path, from device.Device, g group, base uint64, dt device.DataType) ([]item, error) {
	sw := g.peer
	if path.Visits(sw) {
		return nil, fmt.Errorf("%s reached twice on %s: %w", device.Name(sw), path, util.ErrForwardingLoop)
	}
	if path.Len() >= len(c.Devices)+1 {
		return nil, fmt.Errorf("path %s longer than the fabric: %w", path, util.ErrForwardingLoop)
	}

	type subgroup struct {
		out   []int
		lanes []lane
	}
	var order []string
	sets := make(map[string]*subgroup)
	for _, ln := range g.lanes {
		out, err := sw.GetOutputLinks(ln.far, base, dt)
		if err != nil {
			return nil, &util.OracleError{Device: device.Name(sw), Link: ln.far, Base: base, DataType: string(dt), Err: err}
		}
		if len(out) == 0 {
			c.Log.WithFields(logrus.Fields{"device": device.Name(sw), "link": ln.far}).
				Debugf("no output toward 0x%x/%s, pruned", base, dt)
			continue
		}
		out = sortedCopy(out)
		key := setKey(out)
		sg, ok := sets[key]
		if !ok {
			sg = &subgroup{out: out}
			sets[key] = sg
			order = append(order, key)
		}
		sg.lanes = append(sg.lanes, ln)
	}

	var items []item
	for _, key := range order {
		sg := sets[key]
		hop, err := c.hop(from, sw, sg.lanes)
		if err != nil {
			return nil, err
		}
		items = append(items, item{path: path.extend(hop), at: sw, out: sg.out})
	}
	return items, nil
}

// finish appends the final hop into an endpoint and files the path if valid.
func (c *Constructor) finish(path *Path, from device.Device, g group) (int, error) {
	hop, err := c.hop(from, g.peer, g.lanes)
	if err != nil {
		return 0, err
	}
	p := path.extend(hop)

	owner := p.Targets[0].FabricBase
	if dst, ok := c.Apertures.Owner(owner); !ok || dst != g.peer {
		c.Log.WithField("device", device.Name(g.peer)).
			Warnf("path %s ends on a device that does not own 0x%x, dropped", p, owner)
		return 0, nil
	}
	if err := p.Validate(); err != nil {
		c.Log.Warnf("invalid path dropped: %v", err)
		return 0, nil
	}
	if err := c.store.addPath(p); err != nil {
		return 0, err
	}
	return 1, nil
}

// hop registers the connection for lanes from -> to and builds the hop.
func (c *Constructor) hop(from, to device.Device, lanes []lane) (Hop, error) {
	eps := make([]Endpoint, 0, len(lanes))
	var mask device.LinkMask
	for _, ln := range lanes {
		eps = append(eps, Endpoint{ALink: ln.near, BLink: ln.far})
		mask = mask.Set(ln.far)
	}
	conn, err := c.store.AddConnection(NewConnection(from, to, eps...))
	if err != nil {
		return Hop{}, err
	}
	return Hop{Conn: conn, Device: to, Mask: mask}, nil
}

// peerGroups resolves links of d and groups them by peer, in link order.
// Links whose far end is unknown or outside the device set are skipped.
func (c *Constructor) peerGroups(d device.Device, links []int) []group {
	var groups []group
	index := make(map[device.Device]int)
	for _, l := range links {
		peer, far, err := d.GetRemoteEndpoint(l)
		if err != nil || peer == nil {
			c.Log.WithFields(logrus.Fields{"device": device.Name(d), "link": l}).Debugf("no remote endpoint: %v", err)
			continue
		}
		if !c.known[peer] || peer == d {
			continue
		}
		i, ok := index[peer]
		if !ok {
			i = len(groups)
			index[peer] = i
			groups = append(groups, group{peer: peer})
		}
		groups[i].lanes = append(groups[i].lanes, lane{near: l, far: far})
	}
	return groups
}

// consolidate marks connections no path uses, adds placeholders for
// adjacencies that got no connection at all, and merges paths that differ
// only in their targets.
func (c *Constructor) consolidate() error {
	used := make(map[*Connection]bool)
	for _, r := range c.store.routes {
		for _, p := range r.Paths {
			for _, h := range p.Hops {
				used[h.Conn] = true
			}
		}
	}
	for _, conn := range c.store.conns {
		conn.Unused = !used[conn]
	}

	for _, d := range c.Devices {
		for _, g := range c.peerGroups(d, device.ActiveLinks(d)) {
			if device.Less(g.peer, d) || len(c.store.ConnectionsBetween(d, g.peer)) > 0 {
				continue
			}
			eps := make([]Endpoint, 0, len(g.lanes))
			for _, ln := range g.lanes {
				eps = append(eps, Endpoint{ALink: ln.near, BLink: ln.far})
			}
			placeholder := NewConnection(d, g.peer, eps...)
			placeholder.Unused = true
			if _, err := c.store.AddConnection(placeholder); err != nil {
				return err
			}
		}
	}

	for _, r := range c.store.routes {
		r.consolidate()
	}
	return nil
}

func sortedCopy(links []int) []int {
	out := append([]int(nil), links...)
	sort.Ints(out)
	return out
}

func setKey(sorted []int) string {
	parts := make([]string, len(sorted))
	for i, l := range sorted {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}
