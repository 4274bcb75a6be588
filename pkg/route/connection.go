// Package route builds every end-to-end path traffic can take across the
// fabric and keeps them, together with the link gangs they use, in a Store.
package route

import (
	"fmt"
	"sort"

	"github.com/lwfabric/fabtopo/pkg/device"
)

// Endpoint is one physical link between the two devices of a Connection.
// ALink is the link index on Connection.A, BLink on Connection.B.
type Endpoint struct {
	ALink int `json:"a_link"`
	BLink int `json:"b_link"`
}

// Connection is a gang: links between one device pair that forward
// identically. A is never ordered after B (device.Less).
type Connection struct {
	ID        int
	A, B      device.Device
	Endpoints []Endpoint

	// Unused marks a placeholder for an adjacency no path traverses.
	Unused bool
}

// NewConnection orients the pair and sorts the endpoints. Links are given
// as (link on a, link on b) pairs.
func NewConnection(a, b device.Device, endpoints ...Endpoint) *Connection {
	eps := append([]Endpoint(nil), endpoints...)
	if device.Less(b, a) {
		a, b = b, a
		for i := range eps {
			eps[i] = Endpoint{ALink: eps[i].BLink, BLink: eps[i].ALink}
		}
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].ALink < eps[j].ALink })
	return &Connection{A: a, B: b, Endpoints: eps}
}

// Has reports whether d is one of the connection's devices.
func (c *Connection) Has(d device.Device) bool {
	return c.A == d || c.B == d
}

// Peer returns the device on the other side from d.
func (c *Connection) Peer(d device.Device) device.Device {
	if c.A == d {
		return c.B
	}
	return c.A
}

// Links returns the links of the connection on d's side.
func (c *Connection) Links(d device.Device) device.LinkMask {
	var m device.LinkMask
	for _, ep := range c.Endpoints {
		if c.A == d {
			m = m.Set(ep.ALink)
		} else if c.B == d {
			m = m.Set(ep.BLink)
		}
	}
	return m
}

// Width is the number of links in the gang.
func (c *Connection) Width() int {
	return len(c.Endpoints)
}

// SameEndpoints reports whether c and o join the same pair over the same links.
func (c *Connection) SameEndpoints(o *Connection) bool {
	if c.A != o.A || c.B != o.B || len(c.Endpoints) != len(o.Endpoints) {
		return false
	}
	for i := range c.Endpoints {
		if c.Endpoints[i] != o.Endpoints[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether c and o share any physical link.
func (c *Connection) Overlaps(o *Connection) bool {
	if c.A != o.A || c.B != o.B {
		return false
	}
	return c.Links(c.A)&o.Links(o.A) != 0 || c.Links(c.B)&o.Links(o.B) != 0
}

func (c *Connection) String() string {
	s := fmt.Sprintf("%s[%s] <-> %s[%s]", device.Name(c.A), c.Links(c.A), device.Name(c.B), c.Links(c.B))
	if c.Unused {
		s += " (unused)"
	}
	return s
}
