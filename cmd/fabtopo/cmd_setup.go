package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lwfabric/fabtopo/pkg/cli"
	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/fabric"
	"github.com/lwfabric/fabtopo/pkg/route"
	"github.com/lwfabric/fabtopo/pkg/util"
	"github.com/lwfabric/fabtopo/pkg/verify"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run a full topology setup cycle",
	Long: `Map devices to topology ids, validate wiring, allocate apertures and
build routes. Prints a summary of the cycle.

Examples:
  fabtopo --fabric lab.yaml setup
  fabtopo setup --policy permissive-forced --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runSetup(context.Background(), cmd)
		if res == nil {
			return err
		}
		if jsonOutput {
			if encErr := json.NewEncoder(os.Stdout).Encode(res.Summary()); encErr != nil {
				return encErr
			}
			return err
		}

		printSummary(res)
		if len(res.Mismatches) > 0 {
			fmt.Println()
			printMismatches(res.Mismatches)
		}
		if err != nil {
			fmt.Println("\n" + cli.Red("Setup failed."))
			return err
		}
		fmt.Println("\n" + cli.Green("Setup complete."))
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare detected wiring against the spec",
	Long: `Run mapping and validation and list every mismatch. Exits non-zero
when the cycle fails under the active match policy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runSetup(context.Background(), cmd)
		if res == nil {
			return err
		}
		// Later stages are not this command's concern.
		var serr *fabric.SetupError
		if errors.As(err, &serr) && serr.Stage != fabric.StageMap && serr.Stage != fabric.StageValidate {
			err = nil
		}

		if jsonOutput {
			if encErr := json.NewEncoder(os.Stdout).Encode(res.Mismatches); encErr != nil {
				return encErr
			}
			return err
		}

		if len(res.Mismatches) == 0 {
			fmt.Println(cli.Green("Fabric matches its specification."))
			return err
		}
		printMismatches(res.Mismatches)
		fmt.Printf("\n%s\n", verify.SummaryLine(res.Mismatches))
		return err
	},
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Show device to topology id bindings",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runSetup(context.Background(), cmd)
		if res == nil {
			return err
		}
		var serr *fabric.SetupError
		if errors.As(err, &serr) && serr.Stage != fabric.StageMap {
			err = nil
		}

		if jsonOutput {
			if encErr := json.NewEncoder(os.Stdout).Encode(res.Summary().Mapped); encErr != nil {
				return encErr
			}
			return err
		}

		t := cli.NewTable("TYPE", "ID", "DEVICE", "LINKS")
		mapped := make(map[device.Device]bool)
		if res.Mapping != nil {
			for _, e := range res.Mapping.Entries() {
				mapped[e.Device] = true
				t.Row(string(e.Type), strconv.Itoa(e.ID), e.Device.StableID(), linkSummary(e.Device))
			}
		}
		for _, d := range res.Devices {
			if !mapped[d] {
				t.Row(string(d.Type()), cli.Yellow("-"), d.StableID(), linkSummary(d))
			}
		}
		t.Flush()

		if res.Mapping != nil {
			for _, c := range res.Mapping.Conflicts() {
				fmt.Println(cli.Yellow("conflict: ") + c.String())
			}
		}
		return err
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes [device]",
	Short: "Show the route table",
	Long: `Build routes and print connections, routes and paths. With a device
argument (stable id), only routes that device participates in are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runSetup(context.Background(), cmd)
		if err != nil {
			return err
		}

		routes := res.Routes.GetRoutes()
		if len(args) == 1 {
			d, err := lookupDevice(res, args[0])
			if err != nil {
				return err
			}
			routes = res.Routes.GetRoutesForDevice(d)
		} else if !jsonOutput {
			return route.Print(os.Stdout, res.Routes)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(routeViews(routes))
		}

		t := cli.NewTable("SOURCE", "DEST", "PATHS", "HOPS", "TARGETS")
		for _, r := range routes {
			for _, p := range r.Paths {
				t.Row(device.Name(r.Source), device.Name(r.Dest), strconv.Itoa(len(r.Paths)),
					strconv.Itoa(len(p.Hops)), route.FormatTargets(p.Targets))
			}
		}
		t.Flush()
		return nil
	},
}

type pathView struct {
	Path    string `json:"path"`
	Hops    int    `json:"hops"`
	Targets string `json:"targets"`
}

type routeView struct {
	Source string     `json:"source"`
	Dest   string     `json:"dest"`
	Paths  []pathView `json:"paths"`
}

func routeViews(routes []*route.Route) []routeView {
	out := make([]routeView, 0, len(routes))
	for _, r := range routes {
		v := routeView{Source: device.Name(r.Source), Dest: device.Name(r.Dest)}
		for _, p := range r.Paths {
			v.Paths = append(v.Paths, pathView{Path: p.String(), Hops: len(p.Hops), Targets: route.FormatTargets(p.Targets)})
		}
		out = append(out, v)
	}
	return out
}

func lookupDevice(res *fabric.Result, stableID string) (device.Device, error) {
	want := device.NormalizeStableID(stableID)
	for _, d := range res.Devices {
		if device.NormalizeStableID(d.StableID()) == want {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device '%s': %w", stableID, util.ErrNotFound)
}

func linkSummary(d device.Device) string {
	active := device.ActiveLinks(d)
	return fmt.Sprintf("%d/%d", len(active), d.MaxLinks())
}

func printSummary(res *fabric.Result) {
	fmt.Printf("Cycle:    %s\n", res.CycleID)
	fmt.Printf("Devices:  %d discovered, %d mapped\n", len(res.Devices), mappedCount(res))
	if res.Apertures != nil {
		var total uint64
		for _, a := range res.Apertures.All() {
			total += a.Size
		}
		fmt.Printf("Apertures: %d over %d endpoints (%s)\n",
			res.Apertures.Len(), len(res.Apertures.Devices()), humanize.IBytes(total))
	}
	if res.Routes != nil {
		s := res.Summary()
		fmt.Printf("Routes:   %d (%s paths, %d connections, %d unused)\n",
			s.Routes, humanize.Comma(int64(s.Paths)), s.Connections, s.Unused)
	}
	fmt.Printf("Duration: %s\n", res.Duration)
}

func mappedCount(res *fabric.Result) int {
	if res.Mapping == nil {
		return 0
	}
	return res.Mapping.Len()
}

func printMismatches(records []verify.MismatchRecord) {
	t := cli.NewTable("SEVERITY", "KIND", "DEVICE", "LINK", "EXPECTED", "DETECTED")
	for _, r := range records {
		sev := cli.Yellow(string(r.Severity))
		if r.IsError() {
			sev = cli.Red(string(r.Severity))
		}
		dev := string(r.DeviceType)
		if r.Device != "" {
			dev = fmt.Sprintf("%s(%s)", r.DeviceType, r.Device)
		}
		link := "-"
		if r.Link >= 0 {
			link = strconv.Itoa(r.Link)
		}
		t.Row(sev, string(r.Kind), dev, link, r.Expected, r.Detected)
	}
	t.Flush()
}
