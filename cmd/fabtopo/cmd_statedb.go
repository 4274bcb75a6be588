package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lwfabric/fabtopo/pkg/aperture"
	"github.com/lwfabric/fabtopo/pkg/cli"
	"github.com/lwfabric/fabtopo/pkg/sim"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/statedb"
)

var statedbCmd = &cobra.Command{
	Use:   "statedb",
	Short: "STATE_DB fabric table operations",
	Long: `Inspect and seed the FABRIC_* tables in STATE_DB (Redis DB 6).

Examples:
  fabtopo statedb show
  fabtopo --fabric lab.yaml statedb push
  fabtopo --ssh-host node1 --ssh-user admin statedb clear`,
}

var statedbShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List devices published in STATE_DB",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := connectState(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		snap, err := client.Load(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(snap.Hashes())
		}

		ids := make([]string, 0, len(snap.Devices))
		for id := range snap.Devices {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		t := cli.NewTable("DEVICE", "TYPE", "MAX_LINKS", "UP", "ADDRESS_MODES")
		for _, id := range ids {
			d := snap.Devices[id]
			var up int
			for _, l := range snap.Links[id] {
				if l.Up {
					up++
				}
			}
			var modes []string
			for mode := range snap.Addrs[id] {
				modes = append(modes, string(mode))
			}
			sort.Strings(modes)
			t.Row(id, string(d.Type), strconv.Itoa(d.MaxLinks), strconv.Itoa(up), strings.Join(modes, ","))
		}
		t.Flush()

		if err := snap.Check(); err != nil {
			fmt.Println("\n" + cli.Yellow(err.Error()))
		}
		return nil
	},
}

var statedbPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish a simulated fabric into STATE_DB",
	Long: `Capture a simulated fabric file and replace the FABRIC_* tables with
it. Forwarding state is sampled at every aperture base the granularity
yields, so a setup cycle against STATE_DB sees the same routes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if fabricFile == "" {
			return fmt.Errorf("statedb push needs a simulated fabric: use --fabric <file>")
		}
		f, err := sim.LoadFile(fabricFile)
		if err != nil {
			return err
		}

		g := granularity
		if g == 0 {
			if s, err := spec.Load(specFile); err == nil {
				g = s.Granularity()
			}
		}
		if g == 0 {
			g = aperture.DefaultGranularity
		}

		snap, err := statedb.Capture(f.Devices(), g)
		if err != nil {
			return err
		}

		ctx := context.Background()
		client, err := connectState(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Store(ctx, snap); err != nil {
			return fmt.Errorf("storing snapshot: %w", err)
		}
		fmt.Println(cli.Green(fmt.Sprintf("Published %d devices (%d keys).", len(snap.Devices), len(snap.Hashes()))))
		return nil
	},
}

var statedbClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the FABRIC_* tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := connectState(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("Fabric tables cleared.")
		return nil
	},
}

func connectState(ctx context.Context) (*statedb.Client, error) {
	client, err := newStateClient()
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to STATE_DB: %w", err)
	}
	return client, nil
}

func init() {
	statedbCmd.AddCommand(statedbShowCmd)
	statedbCmd.AddCommand(statedbPushCmd)
	statedbCmd.AddCommand(statedbClearCmd)
}
