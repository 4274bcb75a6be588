package testutil

import (
	"testing"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/sim"
	"github.com/lwfabric/fabtopo/pkg/spec"
)

// GiB is 1<<30 bytes.
const GiB = uint64(1) << 30

// Bus ids used by the single-switch fixtures.
const (
	SwitchX = "0000:06:00.0"
	GPUY    = "0000:0a:00.0"
	GPUZ    = "0000:0b:00.0"
)

// Fixture is a simulated fabric plus the specification it is checked against.
type Fixture struct {
	Fabric *sim.Fabric
	Spec   *spec.Spec
}

// Device returns a simulated device by stable id, failing the test if absent.
func (fx *Fixture) Device(t *testing.T, stableID string) *sim.Device {
	t.Helper()
	d, ok := fx.Fabric.Device(stableID)
	if !ok {
		t.Fatalf("fixture has no device %s", stableID)
	}
	return d
}

// MustSpec validates a specification file, failing the test on error.
func MustSpec(t *testing.T, file *spec.FabricSpecFile) *spec.Spec {
	t.Helper()
	s, err := spec.New(file)
	if err != nil {
		t.Fatalf("invalid fixture spec: %v", err)
	}
	return s
}

// singleSwitchSpec declares switch X with GPU Y (gpu0) on port 0 and GPU Z
// (gpu1) on port 3, each GPU owning 64 GiB of local address space.
func singleSwitchSpec(t *testing.T) *spec.Spec {
	return MustSpec(t, &spec.FabricSpecFile{
		Version: "1.0",
		Devices: map[device.Type][]*spec.DeviceEntry{
			device.TypeSwitch: {{
				ID: 0, PhysicalID: SwitchX, MaxLinks: 8,
				Ports: map[int]*spec.PeerRef{
					0: {Type: device.TypeGPU, ID: 0, Link: 0},
					3: {Type: device.TypeGPU, ID: 1, Link: 0},
				},
			}},
			device.TypeGPU: {
				{ID: 0, PhysicalID: GPUY, MaxLinks: 4},
				{ID: 1, PhysicalID: GPUZ, MaxLinks: 4},
			},
		},
	})
}

func singleSwitchFabric(yPort, zPort int) *sim.Fabric {
	f := sim.New()
	x := f.MustAddDevice(device.TypeSwitch, SwitchX, 8)
	y := f.MustAddDevice(device.TypeGPU, GPUY, 4)
	z := f.MustAddDevice(device.TypeGPU, GPUZ, 4)
	y.SetAddressRange(device.AddressLocal, 0, 64*GiB)
	z.SetAddressRange(device.AddressLocal, 64*GiB, 64*GiB)
	f.MustConnect(y, 0, x, yPort)
	f.MustConnect(z, 0, x, zPort)
	return f
}

// SingleSwitch is one switch X and two GPUs Y and Z wired as declared.
func SingleSwitch(t *testing.T) *Fixture {
	t.Helper()
	return &Fixture{Fabric: singleSwitchFabric(0, 3), Spec: singleSwitchSpec(t)}
}

// MissingGPU is SingleSwitch with GPU Z absent from the fabric.
func MissingGPU(t *testing.T) *Fixture {
	t.Helper()
	fx := SingleSwitch(t)
	fx.Fabric.Remove(GPUZ)
	return fx
}

// Miswired is SingleSwitch with Y and Z swapped: Y on port 3, Z on port 0.
func Miswired(t *testing.T) *Fixture {
	t.Helper()
	return &Fixture{Fabric: singleSwitchFabric(3, 0), Spec: singleSwitchSpec(t)}
}

// FourLanes is GPU A with four lanes to switch ports 0-3 and GPU B with four
// lanes to ports 4-7. The spec is derived from the wiring.
func FourLanes(t *testing.T) *Fixture {
	t.Helper()
	f := sim.New()
	a := f.MustAddDevice(device.TypeGPU, "gpu-a", 4)
	b := f.MustAddDevice(device.TypeGPU, "gpu-b", 4)
	sw := f.MustAddDevice(device.TypeSwitch, "sw", 8)
	a.SetAddressRange(device.AddressLocal, 0, 64*GiB)
	b.SetAddressRange(device.AddressLocal, 64*GiB, 64*GiB)
	if err := f.Gang(a, 0, sw, 0, 4); err != nil {
		t.Fatal(err)
	}
	if err := f.Gang(b, 0, sw, 4, 4); err != nil {
		t.Fatal(err)
	}
	return &Fixture{Fabric: f, Spec: MustSpec(t, f.DeriveSpec())}
}

// TwoTier is two GPUs behind two leaf switches joined by a two-lane trunk,
// plus a bridge endpoint on the second leaf:
//
//	gpu0 =[0-1]= leaf0 =[6-7]= leaf1 =[0-1]= gpu1
//	                            leaf1 -[2]- bridge0
//
// gpu0 owns 128 GiB (two apertures), gpu1 and bridge0 64 GiB each.
func TwoTier(t *testing.T) *Fixture {
	t.Helper()
	f := sim.New()
	g0 := f.MustAddDevice(device.TypeGPU, "gpu-0", 4)
	g1 := f.MustAddDevice(device.TypeGPU, "gpu-1", 4)
	l0 := f.MustAddDevice(device.TypeSwitch, "leaf-0", 8)
	l1 := f.MustAddDevice(device.TypeSwitch, "leaf-1", 8)
	br := f.MustAddDevice(device.TypeBridge, "bridge-0", 2)
	g0.SetAddressRange(device.AddressLocal, 0, 128*GiB)
	g1.SetAddressRange(device.AddressLocal, 128*GiB, 64*GiB)
	br.SetAddressRange(device.AddressGlobal, 192*GiB, 64*GiB)

	for _, err := range []error{
		f.Gang(g0, 0, l0, 0, 2),
		f.Gang(l0, 6, l1, 6, 2),
		f.Gang(l1, 0, g1, 0, 2),
		f.Connect(l1, 2, br, 0),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	return &Fixture{Fabric: f, Spec: MustSpec(t, f.DeriveSpec())}
}
