package identity

import (
	"errors"
	"reflect"
	"testing"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/sim"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/util"
)

func newSpec(t *testing.T, devices map[device.Type][]*spec.DeviceEntry) *spec.Spec {
	t.Helper()
	s, err := spec.New(&spec.FabricSpecFile{Version: "1", Devices: devices})
	if err != nil {
		t.Fatalf("spec.New() error = %v", err)
	}
	return s
}

// oneSwitchTwoGPUs declares switch X and GPUs Y (id 0) and Z (id 1) by bus id.
func oneSwitchTwoGPUs(t *testing.T) *spec.Spec {
	return newSpec(t, map[device.Type][]*spec.DeviceEntry{
		device.TypeSwitch: {{ID: 0, PhysicalID: "0000:06:00.0"}},
		device.TypeGPU: {
			{ID: 0, PhysicalID: "0000:0a:00.0"},
			{ID: 1, PhysicalID: "0000:0b:00.0"},
		},
	})
}

func snapshot(m *Mapping) map[string]int {
	out := make(map[string]int)
	for _, e := range m.Entries() {
		out[e.Device.StableID()] = e.ID
	}
	return out
}

func TestAssignIdentitiesPhysical(t *testing.T) {
	f := sim.New()
	// discovery order deliberately differs from id order
	f.MustAddDevice(device.TypeGPU, "0000:0B:00.0", 4)
	f.MustAddDevice(device.TypeSwitch, "0000:06:00.0", 8)
	f.MustAddDevice(device.TypeGPU, "0000:0a:00.0", 4)

	m, err := AssignIdentities(f.Devices(), oneSwitchTwoGPUs(t), spec.PolicyStrict)
	if err != nil {
		t.Fatalf("AssignIdentities() error = %v", err)
	}
	want := map[string]int{"0000:0B:00.0": 1, "0000:06:00.0": 0, "0000:0a:00.0": 0}
	if got := snapshot(m); !reflect.DeepEqual(got, want) {
		t.Errorf("mapping = %v, want %v", got, want)
	}
	if err := m.Check(); err != nil {
		t.Errorf("Check() error = %v", err)
	}
}

func TestAssignIdentitiesMissingDevice(t *testing.T) {
	build := func() *sim.Fabric {
		f := sim.New()
		f.MustAddDevice(device.TypeSwitch, "0000:06:00.0", 8)
		f.MustAddDevice(device.TypeGPU, "0000:0a:00.0", 4)
		return f
	}

	t.Run("strict", func(t *testing.T) {
		_, err := AssignIdentities(build().Devices(), oneSwitchTwoGPUs(t), spec.PolicyStrict)
		if !errors.Is(err, util.ErrUnmappedTopologyID) {
			t.Fatalf("error = %v, want ErrUnmappedTopologyID", err)
		}
		var merr *util.MappingError
		if !errors.As(err, &merr) || !reflect.DeepEqual(merr.IDs, []int{1}) || merr.Type != "gpu" {
			t.Errorf("error = %v, want gpu id 1 unmapped", err)
		}
	})

	t.Run("permissive-minimal", func(t *testing.T) {
		m, err := AssignIdentities(build().Devices(), oneSwitchTwoGPUs(t), spec.PolicyPermissiveMinimal)
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if m.Len() != 2 || m.IsIDMapped(device.TypeGPU, 1) {
			t.Errorf("mapping = %v, want switch and gpu0 only", snapshot(m))
		}
	})
}

func TestAssignIdentitiesForced(t *testing.T) {
	s := newSpec(t, map[device.Type][]*spec.DeviceEntry{
		device.TypeGPU: {{ID: 3}, {ID: 5}},
	})
	build := func() []device.Device {
		f := sim.New()
		f.MustAddDevice(device.TypeGPU, "second", 4)
		f.MustAddDevice(device.TypeGPU, "first", 4)
		return f.Devices()
	}

	if _, err := AssignIdentities(build(), s, spec.PolicyStrict); !errors.Is(err, util.ErrUnmappedTopologyID) {
		t.Errorf("strict error = %v, want ErrUnmappedTopologyID", err)
	}
	if m, err := AssignIdentities(build(), s, spec.PolicyPermissiveMinimal); err != nil || m.Len() != 0 {
		t.Errorf("permissive-minimal = %v, %v, want empty mapping", snapshot(m), err)
	}

	m, err := AssignIdentities(build(), s, spec.PolicyPermissiveForced)
	if err != nil {
		t.Fatalf("permissive-forced error = %v", err)
	}
	// lowest free id goes to the first device in discovery order
	want := map[string]int{"second": 3, "first": 5}
	if got := snapshot(m); !reflect.DeepEqual(got, want) {
		t.Errorf("mapping = %v, want %v", got, want)
	}
}

func TestAssignIdentitiesTrivial(t *testing.T) {
	s := newSpec(t, map[device.Type][]*spec.DeviceEntry{
		device.TypeSwitch: {{ID: 4}},
		device.TypeBridge: {{ID: 0}},
	})
	f := sim.New()
	f.MustAddDevice(device.TypeSwitch, "sw", 8)
	f.MustAddDevice(device.TypeBridge, "npu", 8)

	m, err := AssignIdentities(f.Devices(), s, spec.PolicyStrict)
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if got := snapshot(m); !reflect.DeepEqual(got, map[string]int{"sw": 4, "npu": 0}) {
		t.Errorf("mapping = %v", got)
	}
}

func TestAssignIdentitiesConflict(t *testing.T) {
	// both entries claim the same bus id
	s := newSpec(t, map[device.Type][]*spec.DeviceEntry{
		device.TypeGPU: {{ID: 0, PhysicalID: "g0"}, {ID: 1, PhysicalID: "g0"}},
	})
	build := func() []device.Device {
		f := sim.New()
		f.MustAddDevice(device.TypeGPU, "g0", 4)
		f.MustAddDevice(device.TypeGPU, "g1", 4)
		return f.Devices()
	}

	if _, err := AssignIdentities(build(), s, spec.PolicyStrict); !errors.Is(err, util.ErrConflictingAssignment) {
		t.Errorf("strict error = %v, want ErrConflictingAssignment", err)
	}

	m, err := AssignIdentities(build(), s, spec.PolicyPermissiveForced)
	if err != nil {
		t.Fatalf("permissive-forced error = %v", err)
	}
	conflicts := m.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("Conflicts() = %v, want 1", conflicts)
	}
	c := conflicts[0]
	if c.HeldID != 0 || c.WantedID != 1 || c.Pass != PassPhysical {
		t.Errorf("conflict = %+v", c)
	}
	// forced pass fills the gap with the other device
	if got := snapshot(m); !reflect.DeepEqual(got, map[string]int{"g0": 0, "g1": 1}) {
		t.Errorf("mapping = %v", got)
	}
}

func TestMapperClearsStaleConflicts(t *testing.T) {
	f := sim.New()
	f.MustAddDevice(device.TypeGPU, "g0", 4)
	f.MustAddDevice(device.TypeGPU, "g1", 4)
	conflicting := newSpec(t, map[device.Type][]*spec.DeviceEntry{
		device.TypeGPU: {{ID: 0, PhysicalID: "g0"}, {ID: 1, PhysicalID: "g0"}},
	})
	fixed := newSpec(t, map[device.Type][]*spec.DeviceEntry{
		device.TypeGPU: {{ID: 0, PhysicalID: "g0"}, {ID: 1, PhysicalID: "g1"}},
	})

	mapper := NewMapper(spec.PolicyPermissiveForced)
	m, err := mapper.AssignIdentities(f.Devices(), conflicting)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Conflicts()) != 1 {
		t.Fatalf("Conflicts() = %v, want 1", m.Conflicts())
	}

	// the conflict still holds, so a re-run records it again
	m, err = mapper.AssignIdentities(f.Devices(), conflicting)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Conflicts()) != 1 {
		t.Errorf("re-run Conflicts() = %v, want 1", m.Conflicts())
	}

	m, err = mapper.AssignIdentities(f.Devices(), fixed)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Conflicts()) != 0 {
		t.Errorf("Conflicts() after spec fix = %v, want none", m.Conflicts())
	}
	if got := snapshot(m); !reflect.DeepEqual(got, map[string]int{"g0": 0, "g1": 1}) {
		t.Errorf("mapping = %v", got)
	}
}

func TestAssignIdentitiesSurplus(t *testing.T) {
	s := newSpec(t, map[device.Type][]*spec.DeviceEntry{
		device.TypeGPU: {{ID: 0, PhysicalID: "g0"}},
	})
	f := sim.New()
	f.MustAddDevice(device.TypeGPU, "g0", 4)
	f.MustAddDevice(device.TypeGPU, "g1", 4)

	_, err := AssignIdentities(f.Devices(), s, spec.PolicyStrict)
	if !errors.Is(err, util.ErrDeviceCountMismatch) {
		t.Errorf("error = %v, want ErrDeviceCountMismatch", err)
	}
}

func TestMapperIdempotent(t *testing.T) {
	f := sim.New()
	f.MustAddDevice(device.TypeGPU, "x", 4)
	f.MustAddDevice(device.TypeGPU, "y", 4)
	f.MustAddDevice(device.TypeSwitch, "0000:06:00.0", 8)
	s := newSpec(t, map[device.Type][]*spec.DeviceEntry{
		device.TypeSwitch: {{ID: 0}},
		device.TypeGPU:    {{ID: 0, PhysicalID: "y"}, {ID: 1}},
	})

	mapper := NewMapper(spec.PolicyPermissiveForced)
	first, err := mapper.AssignIdentities(f.Devices(), s)
	if err != nil {
		t.Fatal(err)
	}
	before := snapshot(first)

	second, err := mapper.AssignIdentities(f.Devices(), s)
	if err != nil {
		t.Fatal(err)
	}
	if after := snapshot(second); !reflect.DeepEqual(before, after) {
		t.Errorf("second run changed mapping: %v -> %v", before, after)
	}
	if len(second.Conflicts()) != 0 {
		t.Errorf("second run recorded conflicts: %v", second.Conflicts())
	}

	// a device that disappears loses its binding on the next run
	f.Remove("y")
	third, err := mapper.AssignIdentities(f.Devices(), s)
	if err != nil {
		t.Fatal(err)
	}
	if third.IsIDMapped(device.TypeGPU, 0) {
		t.Error("id 0 should be released when y is removed")
	}
	if got := snapshot(third); got["x"] != 1 {
		t.Errorf("x should keep id 1: %v", got)
	}
}
