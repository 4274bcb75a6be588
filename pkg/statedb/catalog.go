package statedb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// Catalog is a device catalog over one Snapshot. It does not refresh; load a
// new snapshot to see changes.
type Catalog struct {
	snap    *Snapshot
	devices []device.Device
	byID    map[string]*Device

	mu     sync.Mutex
	warned map[FwdKey]bool
}

// NewCatalog checks the snapshot and builds its devices, ordered by stable id.
func NewCatalog(s *Snapshot) (*Catalog, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	c := &Catalog{
		snap:   s,
		byID:   make(map[string]*Device, len(s.Devices)),
		warned: make(map[FwdKey]bool),
	}
	for _, id := range sortedKeys(s.Devices) {
		e := s.Devices[id]
		d := &Device{catalog: c, id: id, typ: e.Type, maxLinks: e.MaxLinks}
		c.byID[device.NormalizeStableID(id)] = d
		c.devices = append(c.devices, d)
	}
	return c, nil
}

// Devices returns all devices.
func (c *Catalog) Devices() []device.Device {
	return append([]device.Device(nil), c.devices...)
}

// Lookup finds a device by stable id.
func (c *Catalog) Lookup(stableID string) (device.Device, bool) {
	d, ok := c.byID[device.NormalizeStableID(stableID)]
	if !ok {
		return nil, false
	}
	return d, true
}

// Device is one STATE_DB device.
type Device struct {
	catalog  *Catalog
	id       string
	typ      device.Type
	maxLinks int
}

func (d *Device) Type() device.Type { return d.typ }
func (d *Device) IsEndpoint() bool  { return d.typ != device.TypeSwitch }
func (d *Device) StableID() string  { return d.id }
func (d *Device) MaxLinks() int     { return d.maxLinks }

func (d *Device) link(l int) (LinkEntry, bool) {
	e, ok := d.catalog.snap.Links[d.id][l]
	return e, ok
}

func (d *Device) IsLinkActive(link int) bool {
	e, ok := d.link(link)
	return ok && e.Up
}

func (d *Device) GetRemoteEndpoint(link int) (device.Device, int, error) {
	if link < 0 || link >= d.maxLinks {
		return nil, 0, device.ErrLinkRange
	}
	e, ok := d.link(link)
	if !ok || !e.Up {
		return nil, 0, device.ErrLinkInactive
	}
	peer, ok := d.catalog.byID[device.NormalizeStableID(e.Peer)]
	if !ok {
		return nil, 0, fmt.Errorf("peer '%s' of %s link %d not in catalog", e.Peer, d.id, link)
	}
	return peer, e.PeerLink, nil
}

// GetOutputLinks looks the aperture base up in the FABRIC_FWD row for the
// ingress link. A missing row or base means no output. A row that exists but
// lacks the base usually means the tables were pushed with another
// granularity, so that is logged once per row.
func (d *Device) GetOutputLinks(inputLink int, fabricBase uint64, dt device.DataType) ([]int, error) {
	if d.typ != device.TypeSwitch {
		return nil, device.ErrNotSwitch
	}
	if !d.IsLinkActive(inputLink) {
		return nil, fmt.Errorf("%s ingress %d: %w", d.id, inputLink, device.ErrLinkInactive)
	}
	key := FwdKey{Device: d.id, In: inputLink, DataType: dt}
	table := d.catalog.snap.Fwd[key]
	out, ok := table[fabricBase]
	if !ok && len(table) > 0 {
		d.catalog.warnMissingBase(key, fabricBase)
	}
	for _, l := range out {
		if l >= d.maxLinks {
			return nil, fmt.Errorf("%s forwards to link %d: %w", d.id, l, device.ErrLinkRange)
		}
	}
	return append([]int(nil), out...), nil
}

func (c *Catalog) warnMissingBase(key FwdKey, base uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warned[key] {
		return
	}
	c.warned[key] = true
	util.WithLink(key.Device, key.In).Warnf(
		"FABRIC_FWD %s row has no entry for base 0x%x; pushed with a different granularity?",
		key.DataType, base)
}

func (d *Device) GetDetectedEndpointInfo() ([]device.EndpointInfo, error) {
	links := d.catalog.snap.Links[d.id]
	idx := make([]int, 0, len(links))
	for l := range links {
		idx = append(idx, l)
	}
	sort.Ints(idx)

	var out []device.EndpointInfo
	for _, l := range idx {
		e := links[l]
		info := device.EndpointInfo{Link: l, Active: e.Up, PeerID: e.Peer, PeerLink: -1}
		if e.Up {
			info.PeerLink = e.PeerLink
		}
		if peer, ok := d.catalog.byID[device.NormalizeStableID(e.Peer)]; ok {
			info.PeerType = peer.typ
			if e.Up {
				info.Peer = peer
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (d *Device) addr(mode device.AddressMode) (AddrEntry, error) {
	e, ok := d.catalog.snap.Addrs[d.id][mode]
	if !ok {
		return AddrEntry{}, device.ErrNoAddressRange
	}
	return e, nil
}

func (d *Device) AddressRangeBase(mode device.AddressMode) (uint64, error) {
	e, err := d.addr(mode)
	return e.Base, err
}

func (d *Device) AddressRangeSize(mode device.AddressMode) (uint64, error) {
	e, err := d.addr(mode)
	return e.Size, err
}

// LinkGrading returns the lane grading published for a link.
func (d *Device) LinkGrading(link int) (device.Grading, error) {
	e, ok := d.link(link)
	if !ok {
		return device.Grading{}, device.ErrLinkRange
	}
	return e.Grading, nil
}
