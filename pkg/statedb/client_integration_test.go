//go:build integration

package statedb

import (
	"path/filepath"
	"testing"

	"github.com/lwfabric/fabtopo/internal/testutil"
	"github.com/lwfabric/fabtopo/pkg/fabric"
	"github.com/lwfabric/fabtopo/pkg/spec"
)

func TestClientLoadSeed(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.SetupStateDB(t, "single_switch.json")

	ctx := testutil.Context(t)
	c := NewClient(testutil.RedisAddr())
	defer c.Close()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	cat, err := c.Catalog(ctx)
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	s, err := spec.Load(filepath.Join(testutil.ProjectRoot(), "testdata", "seed", "single_switch_spec.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := fabric.New(cat, s).SetupTopology(ctx)
	if err != nil {
		t.Fatalf("SetupTopology() error = %v", err)
	}
	if n := len(res.Routes.GetRoutes()); n != 2 {
		t.Errorf("GetRoutes() = %d, want 2", n)
	}
}

func TestClientStoreRoundTrip(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.FlushDB(t, testutil.RedisAddr(), testutil.StateDB)

	fx := testutil.TwoTier(t)
	snap, err := Capture(fx.Fabric.Devices(), 64*testutil.GiB)
	if err != nil {
		t.Fatal(err)
	}

	ctx := testutil.Context(t)
	c := NewClient(testutil.RedisAddr())
	defer c.Close()
	if err := c.Store(ctx, snap); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if got := testutil.ReadEntry(t, "FABRIC_DEVICE|bridge-0"); got["type"] != "bridge" {
		t.Errorf("FABRIC_DEVICE|bridge-0 = %v", got)
	}

	loaded, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Devices) != 5 || len(loaded.Fwd) != len(snap.Fwd) {
		t.Errorf("Load() = %d devices, %d fwd rows; want 5, %d", len(loaded.Devices), len(loaded.Fwd), len(snap.Fwd))
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n := testutil.KeyCount(t); n != 0 {
		t.Errorf("KeyCount() after Clear = %d", n)
	}
}
