package spec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// DefaultSpecFile is the specification path used when none is configured.
var DefaultSpecFile = "/etc/fabtopo/fabric.yaml"

// Format is the encoding of a specification file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the encoding from a file extension. Unknown extensions are
// treated as YAML, which also accepts most JSON documents.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Load reads, validates and indexes a specification file.
func Load(path string) (*Spec, error) {
	if path == "" {
		path = DefaultSpecFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fabric spec: %w", err)
	}
	s, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	util.WithOperation("spec").Debugf("loaded %s: %s", path, s.summary())
	return s, nil
}

// Parse decodes a specification document.
func Parse(data []byte, format Format) (*Spec, error) {
	var file FabricSpecFile
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing fabric spec: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing fabric spec: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown spec format '%s'", format)
	}
	return New(&file)
}

// New validates and indexes an in-memory specification. Type names in the
// file are normalized ("sw" becomes "switch") before validation.
func New(file *FabricSpecFile) (*Spec, error) {
	if file == nil {
		return nil, fmt.Errorf("nil fabric spec: %w", util.ErrInvalidInput)
	}
	if err := normalize(file); err != nil {
		return nil, err
	}
	s := &Spec{file: file}
	s.index()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func normalize(file *FabricSpecFile) error {
	v := &util.ValidationBuilder{}

	if file.MatchPolicy != "" {
		p, err := ParseMatchPolicy(string(file.MatchPolicy))
		if err != nil {
			v.AddError(err.Error())
		}
		file.MatchPolicy = p
	}

	devices := make(map[device.Type][]*DeviceEntry, len(file.Devices))
	for name, list := range file.Devices {
		t, err := device.ParseType(string(name))
		if err != nil {
			v.AddErrorf("devices: %v", err)
			continue
		}
		devices[t] = append(devices[t], list...)
		for _, e := range list {
			if e == nil {
				continue
			}
			for port, p := range e.Ports {
				if p == nil {
					continue
				}
				pt, err := device.ParseType(string(p.Type))
				if err != nil {
					v.AddErrorf("%s%d port %d: %v", t, e.ID, port, err)
					continue
				}
				p.Type = pt
			}
			ranges := make(map[device.AddressMode]*AddressRange, len(e.AddressRanges))
			for mode, r := range e.AddressRanges {
				m, err := device.ParseAddressMode(string(mode))
				if err != nil {
					v.AddErrorf("%s%d address_ranges: %v", t, e.ID, err)
					continue
				}
				ranges[m] = r
			}
			if len(ranges) > 0 {
				e.AddressRanges = ranges
			}
		}
	}
	file.Devices = devices

	return v.Build()
}

func (s *Spec) validate() error {
	v := &util.ValidationBuilder{}

	if err := CheckGranularity(s.file.Granularity); err != nil {
		v.AddError(err.Error())
	}

	for _, t := range device.Types {
		seen := make(map[int]bool)
		for _, e := range s.file.Devices[t] {
			if e == nil {
				v.AddErrorf("%s: empty device entry", t)
				continue
			}
			if e.ID < 0 {
				v.AddErrorf("%s%d: negative topology id", t, e.ID)
			}
			if seen[e.ID] {
				v.AddErrorf("%s%d: duplicate topology id", t, e.ID)
			}
			seen[e.ID] = true

			if e.MaxLinks < 0 || e.MaxLinks > device.MaxMaskLinks {
				v.AddErrorf("%s%d: max_links %d out of range [0,%d]", t, e.ID, e.MaxLinks, device.MaxMaskLinks)
			}
			if t != device.TypeSwitch && len(e.Ports) > 0 {
				v.AddErrorf("%s%d: only switches declare ports", t, e.ID)
			}
			if t == device.TypeSwitch && len(e.AddressRanges) > 0 {
				v.AddErrorf("%s%d: switches do not own address ranges", t, e.ID)
			}
			for mode, r := range e.AddressRanges {
				s.validateRange(v, Key{t, e.ID}, mode, r)
			}
		}
	}

	claimed := make(map[string]string)
	for _, e := range s.byType[device.TypeSwitch] {
		for _, port := range sortedPorts(e.Ports) {
			s.validatePort(v, e, port, claimed)
		}
	}

	return v.Build()
}

func (s *Spec) validateRange(v *util.ValidationBuilder, k Key, mode device.AddressMode, r *AddressRange) {
	if r == nil {
		v.AddErrorf("%s %s range: empty", k, mode)
		return
	}
	if r.Size == 0 {
		v.AddErrorf("%s %s range: size must be positive", k, mode)
	}
	if r.Base+r.Size < r.Base {
		v.AddErrorf("%s %s range: 0x%x+0x%x overflows", k, mode, r.Base, r.Size)
	}
}

func (s *Spec) validatePort(v *util.ValidationBuilder, sw *DeviceEntry, port int, claimed map[string]string) {
	where := fmt.Sprintf("switch%d port %d", sw.ID, port)
	p := sw.Ports[port]
	if p == nil {
		v.AddErrorf("%s: empty peer", where)
		return
	}
	if port < 0 || port >= device.MaxMaskLinks || (sw.MaxLinks > 0 && port >= sw.MaxLinks) {
		v.AddErrorf("%s: port out of range", where)
	}

	peer, ok := s.Entry(p.Type, p.ID)
	if !ok {
		v.AddErrorf("%s: peer %s%d not declared", where, p.Type, p.ID)
		return
	}
	if p.Link < 0 || (peer.MaxLinks > 0 && p.Link >= peer.MaxLinks) {
		v.AddErrorf("%s: peer link %s out of range", where, p)
	}

	self := fmt.Sprintf("%s:%d", Key{device.TypeSwitch, sw.ID}, port)
	if other, dup := claimed[p.String()]; dup {
		v.AddErrorf("%s: peer link %s already claimed by %s", where, p, other)
	} else {
		claimed[p.String()] = self
	}

	// Switch-to-switch links must be declared from both sides.
	if p.Type == device.TypeSwitch {
		back, ok := peer.Ports[p.Link]
		if !ok || back == nil {
			v.AddErrorf("%s: peer %s does not declare the reverse link", where, p)
		} else if back.Type != device.TypeSwitch || back.ID != sw.ID || back.Link != port {
			v.AddErrorf("%s: peer %s expects %s, not switch%d:%d", where, p, back, sw.ID, port)
		}
	}
}

func (s *Spec) summary() string {
	var parts []string
	for _, t := range s.Types() {
		parts = append(parts, fmt.Sprintf("%d %s", s.Count(t), t))
	}
	if len(parts) == 0 {
		return "no devices"
	}
	return strings.Join(parts, ", ")
}

func sortedPorts(ports map[int]*PeerRef) []int {
	keys := make([]int, 0, len(ports))
	for k := range ports {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
