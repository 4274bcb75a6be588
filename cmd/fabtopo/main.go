// Fabtopo - Fabric Topology Discovery Tool
//
// Discovers the devices of a GPU/switch fabric, binds them to the topology
// ids of a declared specification, validates the detected wiring, allocates
// fabric address apertures and builds the route table by querying every
// switch's forwarding state.
//
// Device state comes from one of two catalogs:
//
//	--fabric <file>   Simulated fabric description (YAML or JSON)
//	--redis <addr>    STATE_DB published by the fabric agents (default)
//
// Examples:
//
//	fabtopo --spec fabric.yaml --fabric lab.yaml setup
//	fabtopo --spec fabric.yaml validate --policy forced
//	fabtopo routes --json
//	fabtopo --ssh-host node1 --ssh-user admin health
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lwfabric/fabtopo/pkg/audit"
	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/fabric"
	"github.com/lwfabric/fabtopo/pkg/settings"
	"github.com/lwfabric/fabtopo/pkg/sim"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/statedb"
	"github.com/lwfabric/fabtopo/pkg/util"
	"github.com/lwfabric/fabtopo/pkg/version"
)

var (
	// Source flags
	specFile   string
	fabricFile string
	redisAddr  string
	sshHost    string
	sshUser    string
	sshKeyFile string

	// Setup options
	matchPolicy spec.MatchPolicy
	granularity uint64

	// Output flags
	verbose    bool
	jsonOutput bool

	userSettings *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "fabtopo",
	Short:             "Fabric Topology Discovery Tool",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Fabtopo maps a discovered GPU/switch fabric onto its declared topology,
validates the wiring and builds the fabric route table.

  fabtopo [--spec file] [--fabric file | --redis addr] <command>`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		// Set log level: quiet by default, verbose on -v
		level := "warn"
		if userSettings.LogLevel != "" {
			level = userSettings.LogLevel
		}
		if verbose {
			level = "debug"
		}
		if err := util.SetLogLevel(level); err != nil {
			return err
		}
		if jsonOutput {
			util.SetJSONFormat()
		}

		if isSettingsOrHelp(cmd) {
			return nil
		}

		journal, err := audit.NewFileLogger(journalPath(), audit.DefaultRotation)
		if err != nil {
			util.Warnf("Could not open cycle journal: %v", err)
		} else {
			audit.SetDefaultLogger(journal)
		}

		// Apply defaults from settings
		if specFile == "" {
			specFile = userSettings.GetSpecFile()
		}
		if fabricFile == "" {
			fabricFile = userSettings.FabricFile
		}
		if redisAddr == "" {
			redisAddr = userSettings.GetRedisAddr()
		}
		if sshHost == "" {
			sshHost = userSettings.SSHHost
		}
		if sshUser == "" {
			sshUser = userSettings.SSHUser
		}
		if sshKeyFile == "" {
			sshKeyFile = userSettings.SSHKeyFile
		}
		if matchPolicy == "" {
			matchPolicy = userSettings.MatchPolicy
		}
		if granularity == 0 {
			granularity = userSettings.Granularity
		}
		return spec.CheckGranularity(granularity)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&specFile, "spec", "S", "", "Fabric specification file")
	rootCmd.PersistentFlags().StringVarP(&fabricFile, "fabric", "f", "", "Simulated fabric file (instead of STATE_DB)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "STATE_DB address")
	rootCmd.PersistentFlags().StringVar(&sshHost, "ssh-host", "", "Reach STATE_DB through an SSH tunnel to this host")
	rootCmd.PersistentFlags().StringVar(&sshUser, "ssh-user", "", "SSH user")
	rootCmd.PersistentFlags().StringVar(&sshKeyFile, "ssh-key", "", "SSH private key file")
	rootCmd.PersistentFlags().VarP(&matchPolicy, "policy", "p", "Match policy (strict, permissive-minimal, permissive-forced)")
	rootCmd.PersistentFlags().Uint64Var(&granularity, "granularity", 0, "Aperture size in bytes (default from spec)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "topology", Title: "Topology Operations:"},
		&cobra.Group{ID: "state", Title: "State Operations:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{setupCmd, validateCmd, mapCmd, routesCmd, healthCmd} {
		cmd.GroupID = "topology"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{specCmd, statedbCmd} {
		cmd.GroupID = "state"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{historyCmd, settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("fabtopo dev build")
		} else {
			fmt.Printf("fabtopo %s\n", version.Info())
		}
	},
}

// isSettingsOrHelp reports commands that run without a fabric source.
func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "help", "version", "history":
			return true
		}
	}
	return false
}

// ============================================================================
// Source Helpers
// ============================================================================

// openCatalog returns the device catalog selected by the flags. The returned
// close function must be called once the catalog is no longer queried.
func openCatalog(ctx context.Context) (device.Catalog, func(), error) {
	if fabricFile != "" {
		f, err := sim.LoadFile(fabricFile)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	}

	client, err := newStateClient()
	if err != nil {
		return nil, nil, err
	}
	cat, err := client.Catalog(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return cat, func() { client.Close() }, nil
}

func newStateClient() (*statedb.Client, error) {
	if sshHost == "" {
		return statedb.NewClient(redisAddr), nil
	}
	return statedb.NewTunneledClient(statedb.TunnelConfig{
		Host:     sshHost,
		User:     sshUser,
		KeyFile:  sshKeyFile,
		Password: os.Getenv("FABTOPO_SSH_PASSWORD"),
	})
}

// newFabricContext loads the spec and catalog and applies the setup options.
func newFabricContext(ctx context.Context) (*fabric.FabricContext, func(), error) {
	s, err := spec.Load(specFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading spec: %w", err)
	}
	cat, closeFn, err := openCatalog(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("opening catalog: %w", err)
	}
	fc := fabric.New(cat, s)
	fc.Policy = matchPolicy
	fc.Granularity = granularity
	return fc, closeFn, nil
}

// runSetup runs one setup cycle and journals it. A failed cycle still
// returns its partial result so callers can report what was mapped and
// validated.
func runSetup(ctx context.Context, cmd *cobra.Command) (*fabric.Result, error) {
	fc, closeFn, err := newFabricContext(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	res, err := fc.SetupTopology(ctx)
	event := audit.NewEvent(cmd.CommandPath(), sourceName(), fc.EffectivePolicy()).WithResult(res).WithError(err)
	if jerr := audit.Log(event); jerr != nil {
		util.Warnf("Could not journal cycle: %v", jerr)
	}
	return res, err
}

func sourceName() string {
	switch {
	case fabricFile != "":
		return fabricFile
	case sshHost != "":
		return sshHost + ":" + redisAddr
	}
	return redisAddr
}

// journalPath keeps the cycle journal next to the settings file.
func journalPath() string {
	return filepath.Join(filepath.Dir(settings.DefaultSettingsPath()), "journal.log")
}
