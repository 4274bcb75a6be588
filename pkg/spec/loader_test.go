package spec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

const twoGPUYAML = `
version: "1.0"
description: one switch, two gpus
match_policy: permissive-forced
granularity: 0x1000000000
devices:
  switch:
    - id: 0
      physical_id: "0000:06:00.0"
      max_links: 8
      ports:
        0: {type: gpu, id: 0, link: 0}
        3: {type: gpu, id: 1, link: 0}
  gpu:
    - id: 1
      physical_id: "0000:0b:00.0"
      address_ranges:
        local: {base: 0x2000000000, size: 0x1000000000}
    - id: 0
      physical_id: "0000:0a:00.0"
      address_ranges:
        global: {base: 0x1000000000, size: 0x1000000000}
`

const twoGPUJSON = `{
  "version": "1.0",
  "devices": {
    "sw": [
      {"id": 0, "ports": {"0": {"type": "gpu", "id": 0, "link": 0}, "3": {"type": "gpu", "id": 1, "link": 0}}}
    ],
    "gpu": [
      {"id": 0, "physical_id": "0000:0a:00.0"},
      {"id": 1, "physical_id": "0000:0b:00.0"}
    ]
  }
}`

func TestParseYAML(t *testing.T) {
	s, err := Parse([]byte(twoGPUYAML), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if s.Count(device.TypeGPU) != 2 || s.Count(device.TypeSwitch) != 1 {
		t.Errorf("Count() gpu=%d switch=%d, want 2 and 1", s.Count(device.TypeGPU), s.Count(device.TypeSwitch))
	}
	if ids := s.IDs(device.TypeGPU); len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("IDs(gpu) = %v, want [0 1]", ids)
	}
	if s.MatchPolicy() != PolicyPermissiveForced {
		t.Errorf("MatchPolicy() = %q", s.MatchPolicy())
	}
	if s.Granularity() != 0x1000000000 {
		t.Errorf("Granularity() = 0x%x", s.Granularity())
	}

	p, ok := s.ExpectedPeer(0, 3)
	if !ok {
		t.Fatal("ExpectedPeer(0, 3) not found")
	}
	if p.Type != device.TypeGPU || p.ID != 1 || p.Link != 0 {
		t.Errorf("ExpectedPeer(0, 3) = %s", p)
	}
	if _, ok := s.ExpectedPeer(0, 1); ok {
		t.Error("ExpectedPeer(0, 1) should not exist")
	}

	r, ok := s.AddressRange(device.TypeGPU, 1, device.AddressLocal)
	if !ok || r.Base != 0x2000000000 {
		t.Errorf("AddressRange(gpu1, local) = %+v, %v", r, ok)
	}
	if _, ok := s.AddressRange(device.TypeGPU, 1, device.AddressGlobal); ok {
		t.Error("AddressRange(gpu1, global) should not exist")
	}

	types := s.Types()
	if len(types) != 2 || types[0] != device.TypeGPU || types[1] != device.TypeSwitch {
		t.Errorf("Types() = %v", types)
	}
}

func TestParseJSONNormalizesTypes(t *testing.T) {
	s, err := Parse([]byte(twoGPUJSON), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !s.Declares(device.TypeSwitch) {
		t.Fatal("'sw' should normalize to switch")
	}
	e, ok := s.Entry(device.TypeGPU, 1)
	if !ok || e.PhysicalID != "0000:0b:00.0" {
		t.Errorf("Entry(gpu, 1) = %+v, %v", e, ok)
	}
	if s.MatchPolicy() != "" {
		t.Errorf("MatchPolicy() = %q, want unset", s.MatchPolicy())
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "fabric.yaml")
	if err := os.WriteFile(yamlPath, []byte(twoGPUYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(yamlPath); err != nil {
		t.Errorf("Load(yaml) error = %v", err)
	}

	jsonPath := filepath.Join(dir, "fabric.json")
	if err := os.WriteFile(jsonPath, []byte(twoGPUJSON), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(jsonPath); err != nil {
		t.Errorf("Load(json) error = %v", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load(missing) should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    *FabricSpecFile
		wantErr string
	}{
		{
			name: "duplicate id",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				device.TypeGPU: {{ID: 0}, {ID: 0}},
			}},
			wantErr: "duplicate topology id",
		},
		{
			name: "unknown device type",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				"cpu": {{ID: 0}},
			}},
			wantErr: "unknown device type",
		},
		{
			name: "undeclared peer",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				device.TypeSwitch: {{ID: 0, Ports: map[int]*PeerRef{0: {Type: device.TypeGPU, ID: 7}}}},
			}},
			wantErr: "peer gpu7 not declared",
		},
		{
			name: "port beyond max_links",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				device.TypeSwitch: {{ID: 0, MaxLinks: 4, Ports: map[int]*PeerRef{4: {Type: device.TypeGPU, ID: 0}}}},
				device.TypeGPU:    {{ID: 0}},
			}},
			wantErr: "port out of range",
		},
		{
			name: "endpoint link claimed twice",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				device.TypeSwitch: {{ID: 0, Ports: map[int]*PeerRef{
					0: {Type: device.TypeGPU, ID: 0, Link: 1},
					1: {Type: device.TypeGPU, ID: 0, Link: 1},
				}}},
				device.TypeGPU: {{ID: 0}},
			}},
			wantErr: "already claimed",
		},
		{
			name: "asymmetric switch link",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				device.TypeSwitch: {
					{ID: 0, Ports: map[int]*PeerRef{0: {Type: device.TypeSwitch, ID: 1, Link: 5}}},
					{ID: 1},
				},
			}},
			wantErr: "does not declare the reverse link",
		},
		{
			name: "granularity not a power of two",
			file: &FabricSpecFile{Granularity: 3 << 30, Devices: map[device.Type][]*DeviceEntry{
				device.TypeGPU: {{ID: 0}},
			}},
			wantErr: "must be a power of two",
		},
		{
			name: "granularity below minimum",
			file: &FabricSpecFile{Granularity: 4096, Devices: map[device.Type][]*DeviceEntry{
				device.TypeGPU: {{ID: 0}},
			}},
			wantErr: "must be a power of two",
		},
		{
			name: "gpu with ports",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				device.TypeGPU: {{ID: 0, Ports: map[int]*PeerRef{0: {Type: device.TypeGPU, ID: 0}}}},
			}},
			wantErr: "only switches declare ports",
		},
		{
			name: "zero size range",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				device.TypeGPU: {{ID: 0, AddressRanges: map[device.AddressMode]*AddressRange{
					device.AddressLocal: {Base: 0x1000},
				}}},
			}},
			wantErr: "size must be positive",
		},
		{
			name:    "bad match policy",
			file:    &FabricSpecFile{MatchPolicy: "lenient"},
			wantErr: "unknown match policy",
		},
		{
			name: "symmetric switch link",
			file: &FabricSpecFile{Devices: map[device.Type][]*DeviceEntry{
				device.TypeSwitch: {
					{ID: 0, Ports: map[int]*PeerRef{0: {Type: device.TypeSwitch, ID: 1, Link: 5}}},
					{ID: 1, Ports: map[int]*PeerRef{5: {Type: device.TypeSwitch, ID: 0, Link: 0}}},
				},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.file)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("New() should fail with %q", tt.wantErr)
			}
			if !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error should wrap ErrValidationFailed: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCheckGranularity(t *testing.T) {
	tests := []struct {
		g       uint64
		wantErr bool
	}{
		{0, false},
		{MinGranularity, false},
		{64 << 30, false},
		{1 << 63, false},
		{1, true},
		{MinGranularity / 2, true},
		{48 << 30, true},
		{^uint64(0), true},
	}
	for _, tt := range tests {
		err := CheckGranularity(tt.g)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckGranularity(0x%x) error = %v, wantErr %v", tt.g, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, util.ErrInvalidInput) {
			t.Errorf("CheckGranularity(0x%x) error = %v, want ErrInvalidInput", tt.g, err)
		}
	}
}

func TestMatchPolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    MatchPolicy
		wantErr bool
	}{
		{"strict", PolicyStrict, false},
		{"Permissive-Minimal", PolicyPermissiveMinimal, false},
		{"forced", PolicyPermissiveForced, false},
		{"loose", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var p MatchPolicy
			err := p.Set(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set(%q) error = %v", tt.input, err)
			}
			if p != tt.want {
				t.Errorf("Set(%q) = %q, want %q", tt.input, p, tt.want)
			}
		})
	}

	var unset MatchPolicy
	if unset.String() != "strict" || !unset.IsStrict() || unset.Forces() {
		t.Error("unset policy should behave as strict")
	}
	if !PolicyPermissiveForced.Forces() || PolicyPermissiveMinimal.Forces() {
		t.Error("only permissive-forced forces")
	}
	if unset.Type() != "policy" {
		t.Errorf("Type() = %q", unset.Type())
	}
}
