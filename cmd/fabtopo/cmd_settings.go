package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lwfabric/fabtopo/pkg/cli"
	"github.com/lwfabric/fabtopo/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.fabtopo/settings.json.

Settings provide defaults for the global flags; flags always win.

Examples:
  fabtopo settings show
  fabtopo settings set spec_file /etc/fabtopo/fabric.yaml
  fabtopo settings set match_policy permissive-forced
  fabtopo settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE")

		printSetting := func(name, value string) {
			if value == "" {
				value = cli.Dim("(not set)")
			}
			t.Row(name, value)
		}

		granularity := ""
		if s.Granularity != 0 {
			granularity = fmt.Sprintf("%#x", s.Granularity)
		}

		printSetting("spec_file", s.SpecFile)
		printSetting("fabric_file", s.FabricFile)
		printSetting("redis_addr", s.RedisAddr)
		printSetting("ssh_host", s.SSHHost)
		printSetting("ssh_user", s.SSHUser)
		printSetting("ssh_key_file", s.SSHKeyFile)
		printSetting("match_policy", string(s.MatchPolicy))
		printSetting("granularity", granularity)
		printSetting("log_level", s.LogLevel)

		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value. An empty value clears it.

Available settings: ` + strings.Join(settings.Keys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return fmt.Errorf("%w (valid: %s)", err, strings.Join(settings.Keys(), ", "))
		}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		s.Clear()
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("Settings cleared.")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
}
