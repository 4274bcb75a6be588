package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// FabricFile describes a simulated fabric on disk.
type FabricFile struct {
	Devices []DeviceDef `json:"devices" yaml:"devices"`
	Links   []LinkDef   `json:"links" yaml:"links"`
}

// DeviceDef is one simulated device.
type DeviceDef struct {
	ID            string                 `json:"id" yaml:"id"`
	Type          string                 `json:"type" yaml:"type"`
	MaxLinks      int                    `json:"max_links" yaml:"max_links"`
	AddressRanges map[string]RangeDef    `json:"address_ranges,omitempty" yaml:"address_ranges,omitempty"`
	Faults        *FaultDef              `json:"faults,omitempty" yaml:"faults,omitempty"`
	Grading       map[int]device.Grading `json:"grading,omitempty" yaml:"grading,omitempty"`
}

// RangeDef is an address range.
type RangeDef struct {
	Base uint64 `json:"base" yaml:"base"`
	Size uint64 `json:"size" yaml:"size"`
}

// FaultDef lists injected faults for one device.
type FaultDef struct {
	BlockedIngress string `json:"blocked_ingress,omitempty" yaml:"blocked_ingress,omitempty"` // link range, e.g. "0-3,6"
	OracleError    string `json:"oracle_error,omitempty" yaml:"oracle_error,omitempty"`
	DownLinks      string `json:"down_links,omitempty" yaml:"down_links,omitempty"`
}

// LinkDef wires Count consecutive links starting at A.Link and B.Link.
type LinkDef struct {
	A     EndDef `json:"a" yaml:"a"`
	B     EndDef `json:"b" yaml:"b"`
	Count int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// EndDef is one side of a link.
type EndDef struct {
	Device string `json:"device" yaml:"device"`
	Link   int    `json:"link" yaml:"link"`
}

// LoadFile reads a fabric file (.json, otherwise YAML) and builds the fabric.
func LoadFile(path string) (*Fabric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fabric file: %w", err)
	}
	var file FabricFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing fabric file %s: %w", path, err)
	}
	f, err := Build(&file)
	if err != nil {
		return nil, fmt.Errorf("building fabric from %s: %w", path, err)
	}
	util.WithOperation("sim").Debugf("loaded %s: %d devices", path, len(file.Devices))
	return f, nil
}

// Build creates a fabric from its file description. All problems are
// collected into one validation error.
func Build(file *FabricFile) (*Fabric, error) {
	v := &util.ValidationBuilder{}
	f := New()

	for i, def := range file.Devices {
		t, err := device.ParseType(def.Type)
		if err != nil {
			v.AddErrorf("devices[%d]: %v", i, err)
			continue
		}
		d, err := f.AddDevice(t, def.ID, def.MaxLinks)
		if err != nil {
			v.AddErrorf("devices[%d]: %v", i, err)
			continue
		}
		for name, r := range def.AddressRanges {
			mode, err := device.ParseAddressMode(name)
			if err != nil {
				v.AddErrorf("devices[%d] %s: %v", i, def.ID, err)
				continue
			}
			d.SetAddressRange(mode, r.Base, r.Size)
		}
		for l, g := range def.Grading {
			d.SetGrading(l, g)
		}
	}

	for i, link := range file.Links {
		a, okA := f.Device(link.A.Device)
		b, okB := f.Device(link.B.Device)
		if !okA || !okB {
			v.AddErrorf("links[%d]: unknown device %s", i, missing(okA, link.A.Device, link.B.Device))
			continue
		}
		n := link.Count
		if n == 0 {
			n = 1
		}
		if err := f.Gang(a, link.A.Link, b, link.B.Link, n); err != nil {
			v.AddErrorf("links[%d]: %v", i, err)
		}
	}

	// Faults go last so down_links can refer to wired links.
	for i, def := range file.Devices {
		if def.Faults == nil {
			continue
		}
		d, ok := f.Device(def.ID)
		if !ok {
			continue
		}
		if err := applyFaults(d, def.Faults); err != nil {
			v.AddErrorf("devices[%d] %s faults: %v", i, def.ID, err)
		}
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return f, nil
}

func applyFaults(d *Device, faults *FaultDef) error {
	if faults.BlockedIngress != "" {
		links, err := util.ExpandLinkRange(faults.BlockedIngress, d.MaxLinks())
		if err != nil {
			return fmt.Errorf("blocked_ingress: %w", err)
		}
		d.BlockIngress(links...)
	}
	if faults.DownLinks != "" {
		links, err := util.ExpandLinkRange(faults.DownLinks, d.MaxLinks())
		if err != nil {
			return fmt.Errorf("down_links: %w", err)
		}
		for _, l := range links {
			d.SetLinkDown(l, true)
		}
	}
	if faults.OracleError != "" {
		d.FailOracle(errors.New(faults.OracleError))
	}
	return nil
}

func missing(okA bool, a, b string) string {
	if !okA {
		return a
	}
	return b
}
