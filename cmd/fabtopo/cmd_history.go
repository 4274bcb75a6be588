package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lwfabric/fabtopo/pkg/audit"
	"github.com/lwfabric/fabtopo/pkg/cli"
)

var (
	historyLimit    int
	historyFailures bool
	historySince    time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled setup cycles",
	Long: `List recent setup cycles from the journal kept next to the settings
file. Every command that runs a setup cycle appends to it.

Examples:
  fabtopo history
  fabtopo history --failures --since 24h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		journal, err := audit.NewFileLogger(journalPath(), audit.RotationConfig{})
		if err != nil {
			return err
		}
		defer journal.Close()

		filter := audit.Filter{Limit: historyLimit, FailureOnly: historyFailures}
		if historySince > 0 {
			filter.StartTime = time.Now().Add(-historySince)
		}
		events, err := journal.Query(filter)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(events)
		}
		if len(events) == 0 {
			fmt.Println("No setup cycles journaled.")
			return nil
		}

		t := cli.NewTable("WHEN", "COMMAND", "POLICY", "RESULT", "MAPPED", "ROUTES", "CYCLE")
		for _, e := range events {
			result := cli.Green("ok")
			if !e.Success {
				result = cli.Red("failed")
				if e.Stage != "" {
					result = cli.Red("failed@" + string(e.Stage))
				}
			}
			t.Row(humanize.Time(e.Timestamp), e.Command, string(e.Policy), result,
				fmt.Sprintf("%d/%d", e.Mapped, e.Devices), strconv.Itoa(e.Routes), e.ID)
		}
		t.Flush()
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Show at most this many cycles")
	historyCmd.Flags().BoolVar(&historyFailures, "failures", false, "Only failed cycles")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only cycles within this long")
}
