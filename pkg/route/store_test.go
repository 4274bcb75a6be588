package route

import (
	"errors"
	"testing"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/sim"
	"github.com/lwfabric/fabtopo/pkg/util"
)

func pairFabric(t *testing.T) (*sim.Device, *sim.Device) {
	t.Helper()
	f := sim.New()
	g := f.MustAddDevice(device.TypeGPU, "g", 4)
	sw := f.MustAddDevice(device.TypeSwitch, "s", 8)
	return g, sw
}

func TestNewConnectionOrients(t *testing.T) {
	g, sw := pairFabric(t)
	c := NewConnection(sw, g, Endpoint{ALink: 5, BLink: 1}, Endpoint{ALink: 4, BLink: 0})

	if c.A != device.Device(g) || c.B != device.Device(sw) {
		t.Fatalf("connection = %s, want the GPU on side A", c)
	}
	if c.Endpoints[0] != (Endpoint{ALink: 0, BLink: 4}) || c.Endpoints[1] != (Endpoint{ALink: 1, BLink: 5}) {
		t.Errorf("endpoints = %v, want swapped and sorted", c.Endpoints)
	}
	if c.Links(sw) != device.MaskOf(4, 5) || c.Links(g) != device.MaskOf(0, 1) {
		t.Errorf("Links() = %s / %s", c.Links(g), c.Links(sw))
	}
	if c.Peer(g) != device.Device(sw) || c.Width() != 2 {
		t.Errorf("Peer/Width wrong for %s", c)
	}
}

func TestStoreAddConnection(t *testing.T) {
	g, sw := pairFabric(t)

	tests := []struct {
		name    string
		second  *Connection
		wantErr error
		wantLen int
	}{
		{
			name:    "same endpoints",
			second:  NewConnection(sw, g, Endpoint{ALink: 0, BLink: 0}, Endpoint{ALink: 1, BLink: 1}),
			wantLen: 1,
		},
		{
			name:    "disjoint",
			second:  NewConnection(g, sw, Endpoint{ALink: 2, BLink: 2}),
			wantLen: 2,
		},
		{
			name:    "overlapping",
			second:  NewConnection(g, sw, Endpoint{ALink: 1, BLink: 1}),
			wantErr: util.ErrDuplicateConnection,
			wantLen: 1,
		},
		{
			name:    "empty",
			second:  NewConnection(g, sw),
			wantErr: util.ErrInvalidInput,
			wantLen: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			first, err := s.AddConnection(NewConnection(g, sw, Endpoint{ALink: 0, BLink: 0}, Endpoint{ALink: 1, BLink: 1}))
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.AddConnection(tt.second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("AddConnection() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("AddConnection() error = %v", err)
			}
			if tt.name == "same endpoints" && got != first {
				t.Error("equal connection should return the canonical instance")
			}
			if n := len(s.ConnectionsBetween(sw, g)); n != tt.wantLen {
				t.Errorf("ConnectionsBetween() = %d, want %d", n, tt.wantLen)
			}
		})
	}
}

func TestStoreUnusedCleared(t *testing.T) {
	g, sw := pairFabric(t)
	s := NewStore()

	placeholder := NewConnection(g, sw, Endpoint{ALink: 0, BLink: 0})
	placeholder.Unused = true
	if _, err := s.AddConnection(placeholder); err != nil {
		t.Fatal(err)
	}
	got, err := s.AddConnection(NewConnection(g, sw, Endpoint{ALink: 0, BLink: 0}))
	if err != nil {
		t.Fatal(err)
	}
	if got.Unused {
		t.Error("a used duplicate should clear the placeholder flag")
	}
	if len(s.ConnectionsOf(g)) != 1 {
		t.Errorf("ConnectionsOf() = %v", s.ConnectionsOf(g))
	}
}

func TestFormatTargets(t *testing.T) {
	got := FormatTargets([]Target{
		{FabricBase: 0, Size: 64 << 30, DataType: device.Request},
		{FabricBase: 0, Size: 64 << 30, DataType: device.Response},
		{FabricBase: 0x1000000000, Size: 8 << 30, DataType: device.Request},
	})
	want := "0x0+64 GiB(request,response) 0x1000000000+8.0 GiB(request)"
	if got != want {
		t.Errorf("FormatTargets() = %q, want %q", got, want)
	}
}
