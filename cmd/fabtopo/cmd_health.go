package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lwfabric/fabtopo/pkg/cli"
	"github.com/lwfabric/fabtopo/pkg/fabric"
	"github.com/lwfabric/fabtopo/pkg/health"
)

var healthCheckName string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Grade the outcome of a setup cycle",
	Long: `Run a setup cycle and grade it: mismatches, aperture ownership,
route coverage, path validity and unused connections. A failed cycle is
graded too; checks that need missing state report unknown.

Examples:
  fabtopo health
  fabtopo health --check route-coverage`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		res, err := runSetup(ctx, cmd)
		var serr *fabric.SetupError
		if err != nil && !errors.As(err, &serr) {
			return err
		}

		checker := health.NewChecker()

		// Run specific check or all checks
		if healthCheckName != "" {
			result, err := checker.RunCheck(ctx, res, healthCheckName)
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			printHealthResult(*result)
			return nil
		}

		report, err := checker.Run(ctx, res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(report)
		}

		fmt.Printf("\nHealth Report for cycle %s\n", cli.Bold(report.Cycle))
		fmt.Printf("Timestamp: %s\n\n", report.Timestamp.Format("2006-01-02 15:04:05"))

		for _, result := range report.Results {
			fmt.Printf("  %s %s\n", cli.DotPad(result.Check, 24), cli.Status(string(result.Status)))
			fmt.Printf("    %s\n", cli.Dim(result.Message))
		}

		fmt.Printf("\nOverall Status: %s\n", cli.Status(string(report.Overall)))
		if report.Overall == health.StatusCritical {
			return fmt.Errorf("fabric health is critical")
		}
		return nil
	},
}

func printHealthResult(result health.Result) {
	fmt.Printf("\nHealth Check: %s\n", cli.Bold(result.Check))
	fmt.Printf("Status: %s\n", cli.Status(string(result.Status)))
	fmt.Printf("Message: %s\n", result.Message)
	fmt.Printf("Duration: %s\n", result.Duration)

	if result.Details != nil {
		fmt.Printf("Details: %v\n", result.Details)
	}
}

func init() {
	healthCmd.Flags().StringVar(&healthCheckName, "check", "", "Run a single check (mismatches, apertures, route-coverage, path-validity, unused-connections)")
}
