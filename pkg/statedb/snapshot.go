// Package statedb reads the discovered fabric from a node's Redis STATE_DB
// (DB 6) and exposes it as a device catalog. The fabric agent publishes one
// hash per device, link, address range and forwarding entry:
//
//	FABRIC_DEVICE|<id>                  type, max_links
//	FABRIC_LINK|<id>|<link>             state, peer, peer_link, rx_init, ...
//	FABRIC_ADDR|<id>|<local|global>     base, size
//	FABRIC_FWD|<id>|<in>|<request|response>  <aperture base> -> <link list>
package statedb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// Table names.
const (
	TableDevice = "FABRIC_DEVICE"
	TableLink   = "FABRIC_LINK"
	TableAddr   = "FABRIC_ADDR"
	TableFwd    = "FABRIC_FWD"
)

// Tables lists every table the catalog reads.
var Tables = []string{TableDevice, TableLink, TableAddr, TableFwd}

// DeviceEntry is a FABRIC_DEVICE row.
type DeviceEntry struct {
	Type     device.Type `json:"type"`
	MaxLinks int         `json:"max_links"`
}

// LinkEntry is a FABRIC_LINK row.
type LinkEntry struct {
	Up       bool           `json:"up"`
	Peer     string         `json:"peer,omitempty"`
	PeerLink int            `json:"peer_link"`
	Grading  device.Grading `json:"grading"`
}

// AddrEntry is a FABRIC_ADDR row.
type AddrEntry struct {
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

// FwdKey addresses one FABRIC_FWD row.
type FwdKey struct {
	Device   string
	In       int
	DataType device.DataType
}

// Snapshot is the fabric tables as read at one instant.
type Snapshot struct {
	Devices map[string]DeviceEntry
	Links   map[string]map[int]LinkEntry
	Addrs   map[string]map[device.AddressMode]AddrEntry
	// Fwd maps aperture base to output links.
	Fwd map[FwdKey]map[uint64][]int
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Devices: make(map[string]DeviceEntry),
		Links:   make(map[string]map[int]LinkEntry),
		Addrs:   make(map[string]map[device.AddressMode]AddrEntry),
		Fwd:     make(map[FwdKey]map[uint64][]int),
	}
}

// tableParser populates a snapshot from one hash. key holds the parts after
// the table name.
type tableParser func(s *Snapshot, key []string, vals map[string]string) error

var tableParsers = map[string]tableParser{
	TableDevice: func(s *Snapshot, key []string, vals map[string]string) error {
		if len(key) != 1 {
			return fmt.Errorf("want <id>")
		}
		e, err := parseDevice(vals)
		if err != nil {
			return err
		}
		s.Devices[key[0]] = e
		return nil
	},
	TableLink: func(s *Snapshot, key []string, vals map[string]string) error {
		if len(key) != 2 {
			return fmt.Errorf("want <id>|<link>")
		}
		link, err := strconv.Atoi(key[1])
		if err != nil || link < 0 {
			return fmt.Errorf("invalid link '%s'", key[1])
		}
		e, err := parseLink(vals)
		if err != nil {
			return err
		}
		if s.Links[key[0]] == nil {
			s.Links[key[0]] = make(map[int]LinkEntry)
		}
		s.Links[key[0]][link] = e
		return nil
	},
	TableAddr: func(s *Snapshot, key []string, vals map[string]string) error {
		if len(key) != 2 {
			return fmt.Errorf("want <id>|<mode>")
		}
		mode, err := device.ParseAddressMode(key[1])
		if err != nil {
			return err
		}
		e, err := parseAddr(vals)
		if err != nil {
			return err
		}
		if s.Addrs[key[0]] == nil {
			s.Addrs[key[0]] = make(map[device.AddressMode]AddrEntry)
		}
		s.Addrs[key[0]][mode] = e
		return nil
	},
	TableFwd: func(s *Snapshot, key []string, vals map[string]string) error {
		if len(key) != 3 {
			return fmt.Errorf("want <id>|<in>|<datatype>")
		}
		in, err := strconv.Atoi(key[1])
		if err != nil || in < 0 {
			return fmt.Errorf("invalid input link '%s'", key[1])
		}
		dt, err := device.ParseDataType(key[2])
		if err != nil {
			return err
		}
		table, err := parseFwd(vals)
		if err != nil {
			return err
		}
		s.Fwd[FwdKey{Device: key[0], In: in, DataType: dt}] = table
		return nil
	},
}

// Apply parses one Redis hash into the snapshot. Keys of unknown tables are
// ignored.
func (s *Snapshot) Apply(redisKey string, vals map[string]string) error {
	parts := strings.Split(redisKey, "|")
	parser, ok := tableParsers[parts[0]]
	if !ok {
		return nil
	}
	if err := parser(s, parts[1:], vals); err != nil {
		return fmt.Errorf("%s: %w", redisKey, err)
	}
	return nil
}

// Hashes renders the snapshot back into Redis keys and fields.
func (s *Snapshot) Hashes() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for id, d := range s.Devices {
		out[TableDevice+"|"+id] = map[string]string{
			"type":      string(d.Type),
			"max_links": strconv.Itoa(d.MaxLinks),
		}
	}
	for id, links := range s.Links {
		for l, e := range links {
			out[fmt.Sprintf("%s|%s|%d", TableLink, id, l)] = formatLink(e)
		}
	}
	for id, modes := range s.Addrs {
		for mode, e := range modes {
			out[fmt.Sprintf("%s|%s|%s", TableAddr, id, mode)] = map[string]string{
				"base": formatHex(e.Base),
				"size": formatHex(e.Size),
			}
		}
	}
	for k, table := range s.Fwd {
		vals := make(map[string]string, len(table))
		for base, links := range table {
			vals[formatHex(base)] = util.CompactRange(links)
		}
		out[fmt.Sprintf("%s|%s|%d|%s", TableFwd, k.Device, k.In, k.DataType)] = vals
	}
	return out
}

// Check verifies that every referenced device has a FABRIC_DEVICE row and
// every link index is within its device's max_links.
func (s *Snapshot) Check() error {
	v := &util.ValidationBuilder{}
	for _, id := range sortedKeys(s.Links) {
		d, ok := s.Devices[id]
		if !ok {
			v.AddErrorf("%s|%s: no %s row", TableLink, id, TableDevice)
			continue
		}
		for l, e := range s.Links[id] {
			v.Add(l < d.MaxLinks, fmt.Sprintf("%s|%s|%d: link beyond max_links %d", TableLink, id, l, d.MaxLinks))
			if e.Peer != "" {
				_, known := s.Devices[e.Peer]
				v.Add(known, fmt.Sprintf("%s|%s|%d: unknown peer '%s'", TableLink, id, l, e.Peer))
			}
		}
	}
	for _, id := range sortedKeys(s.Addrs) {
		_, ok := s.Devices[id]
		v.Add(ok, fmt.Sprintf("%s|%s: no %s row", TableAddr, id, TableDevice))
	}
	return v.Build()
}

func parseDevice(vals map[string]string) (DeviceEntry, error) {
	t, err := device.ParseType(vals["type"])
	if err != nil {
		return DeviceEntry{}, err
	}
	n, err := strconv.Atoi(vals["max_links"])
	if err != nil || n < 1 || n > device.MaxMaskLinks {
		return DeviceEntry{}, fmt.Errorf("invalid max_links '%s'", vals["max_links"])
	}
	return DeviceEntry{Type: t, MaxLinks: n}, nil
}

func parseLink(vals map[string]string) (LinkEntry, error) {
	e := LinkEntry{PeerLink: -1}
	switch strings.ToLower(vals["state"]) {
	case "up", "active":
		e.Up = true
	case "", "down", "inactive":
	default:
		return e, fmt.Errorf("invalid state '%s'", vals["state"])
	}
	e.Peer = vals["peer"]
	if s := vals["peer_link"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return e, fmt.Errorf("invalid peer_link '%s'", s)
		}
		e.PeerLink = n
	}
	if e.Up && (e.Peer == "" || e.PeerLink < 0) {
		return e, fmt.Errorf("active link without peer")
	}

	var err error
	for field, dst := range map[string]*[]int{
		"rx_init": &e.Grading.RxInit, "tx_init": &e.Grading.TxInit,
		"rx_maint": &e.Grading.RxMaint, "tx_maint": &e.Grading.TxMaint,
	} {
		if *dst, err = parseIntList(vals[field]); err != nil {
			return e, fmt.Errorf("%s: %w", field, err)
		}
	}
	return e, nil
}

func formatLink(e LinkEntry) map[string]string {
	vals := map[string]string{"state": "down"}
	if e.Up {
		vals["state"] = "up"
	}
	if e.Peer != "" {
		vals["peer"] = e.Peer
		vals["peer_link"] = strconv.Itoa(e.PeerLink)
	}
	for field, lanes := range map[string][]int{
		"rx_init": e.Grading.RxInit, "tx_init": e.Grading.TxInit,
		"rx_maint": e.Grading.RxMaint, "tx_maint": e.Grading.TxMaint,
	} {
		if len(lanes) > 0 {
			vals[field] = formatIntList(lanes)
		}
	}
	return vals
}

func parseAddr(vals map[string]string) (AddrEntry, error) {
	base, err := parseUint(vals["base"])
	if err != nil {
		return AddrEntry{}, fmt.Errorf("base: %w", err)
	}
	size, err := parseUint(vals["size"])
	if err != nil {
		return AddrEntry{}, fmt.Errorf("size: %w", err)
	}
	if size == 0 {
		return AddrEntry{}, fmt.Errorf("zero size")
	}
	return AddrEntry{Base: base, Size: size}, nil
}

func parseFwd(vals map[string]string) (map[uint64][]int, error) {
	table := make(map[uint64][]int, len(vals))
	for field, v := range vals {
		base, err := parseUint(field)
		if err != nil {
			return nil, fmt.Errorf("aperture '%s': %w", field, err)
		}
		links, err := util.ExpandLinkRange(v, device.MaxMaskLinks)
		if err != nil {
			return nil, fmt.Errorf("aperture '%s': %w", field, err)
		}
		table[base] = links
	}
	return table, nil
}

// parseUint accepts decimal or 0x-prefixed hex.
func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing value")
	}
	return strconv.ParseUint(s, 0, 64)
}

func formatHex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// parseIntList parses a comma separated list; grading values are not link
// indexes so range notation does not apply.
func parseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range util.SplitCommaSeparated(s) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value '%s'", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func formatIntList(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
