package route

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// ErrSealed is returned when a sealed Store is modified.
var ErrSealed = errors.New("route store is sealed")

type pair struct {
	a, b device.Device
}

type routeKey struct {
	src, dst device.Device
}

// Store owns the connections and routes of one topology setup cycle. It is
// filled by Construct and read-only afterwards.
type Store struct {
	conns  []*Connection
	byPair map[pair][]*Connection
	routes map[routeKey]*Route
	order  []routeKey
	sealed bool
}

// NewStore returns an empty, writable store.
func NewStore() *Store {
	return &Store{
		byPair: make(map[pair][]*Connection),
		routes: make(map[routeKey]*Route),
	}
}

// AddConnection returns the canonical connection for c's device pair and
// endpoint set, inserting c if there is none. A pair may own several
// connections over disjoint link sets; a set that overlaps an existing one
// without being equal to it fails with ErrDuplicateConnection.
func (s *Store) AddConnection(c *Connection) (*Connection, error) {
	if s.sealed {
		return nil, ErrSealed
	}
	if len(c.Endpoints) == 0 {
		return nil, fmt.Errorf("connection %s has no endpoints: %w", c, util.ErrInvalidInput)
	}
	k := pair{c.A, c.B}
	for _, have := range s.byPair[k] {
		if have.SameEndpoints(c) {
			if !c.Unused {
				have.Unused = false
			}
			return have, nil
		}
		if have.Overlaps(c) {
			return nil, fmt.Errorf("%s vs existing %s: %w", c, have, util.ErrDuplicateConnection)
		}
	}
	c.ID = len(s.conns)
	s.conns = append(s.conns, c)
	s.byPair[k] = append(s.byPair[k], c)
	return c, nil
}

// Connections returns every connection in insertion order.
func (s *Store) Connections() []*Connection {
	return s.conns
}

// ConnectionsBetween returns the connections joining a and b.
func (s *Store) ConnectionsBetween(a, b device.Device) []*Connection {
	if device.Less(b, a) {
		a, b = b, a
	}
	return s.byPair[pair{a, b}]
}

// ConnectionsOf returns the connections touching d.
func (s *Store) ConnectionsOf(d device.Device) []*Connection {
	var out []*Connection
	for _, c := range s.conns {
		if c.Has(d) {
			out = append(out, c)
		}
	}
	return out
}

// addPath files a path under its (source, destination) route.
func (s *Store) addPath(p *Path) error {
	if s.sealed {
		return ErrSealed
	}
	k := routeKey{p.Source, p.Destination()}
	r, ok := s.routes[k]
	if !ok {
		r = &Route{Source: k.src, Dest: k.dst}
		s.routes[k] = r
		s.order = append(s.order, k)
	}
	r.Paths = append(r.Paths, p)
	return nil
}

// Route returns the route from src to dst.
func (s *Store) Route(src, dst device.Device) (*Route, bool) {
	r, ok := s.routes[routeKey{src, dst}]
	return r, ok
}

// GetRoutes returns every route ordered by source then destination.
func (s *Store) GetRoutes() []*Route {
	out := make([]*Route, 0, len(s.routes))
	for _, k := range s.order {
		out = append(out, s.routes[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return device.Less(out[i].Source, out[j].Source)
		}
		return device.Less(out[i].Dest, out[j].Dest)
	})
	return out
}

// GetRoutesForDevice returns the routes d is the source, destination or a
// hop of.
func (s *Store) GetRoutesForDevice(d device.Device) []*Route {
	var out []*Route
	for _, r := range s.GetRoutes() {
		if r.Uses(d) {
			out = append(out, r)
		}
	}
	return out
}

// PathCount returns the number of paths over all routes.
func (s *Store) PathCount() int {
	n := 0
	for _, r := range s.routes {
		n += len(r.Paths)
	}
	return n
}

// Sealed reports whether the store is read-only.
func (s *Store) Sealed() bool {
	return s.sealed
}

func (s *Store) seal() {
	s.sealed = true
}
