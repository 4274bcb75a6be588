package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lwfabric/fabtopo/pkg/sim"
	"github.com/lwfabric/fabtopo/pkg/spec"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Specification file operations",
}

var specOutput string

var specDeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Write the spec a simulated fabric satisfies",
	Long: `Derive a fabric specification from a simulated fabric file: every
device gets a topology id in discovery order and every wired switch port
becomes an expected peer. Useful as a starting point for a real spec.

Examples:
  fabtopo --fabric lab.yaml spec derive -o fabric.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if fabricFile == "" {
			return fmt.Errorf("spec derive needs a simulated fabric: use --fabric <file>")
		}
		f, err := sim.LoadFile(fabricFile)
		if err != nil {
			return err
		}
		file := f.DeriveSpec()
		if matchPolicy != "" {
			file.MatchPolicy = matchPolicy
		}
		if granularity != 0 {
			file.Granularity = granularity
		}
		// Round-trip through the loader so a derived spec is always loadable.
		if _, err := spec.New(file); err != nil {
			return fmt.Errorf("derived spec is invalid: %w", err)
		}

		var data []byte
		if jsonOutput || spec.FormatOf(specOutput) == spec.FormatJSON {
			data, err = json.MarshalIndent(file, "", "  ")
			data = append(data, '\n')
		} else {
			data, err = yaml.Marshal(file)
		}
		if err != nil {
			return err
		}

		if specOutput == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(specOutput, data, 0644); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", specOutput)
		return nil
	},
}

var specCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate the spec file",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := spec.Load(specFile)
		if err != nil {
			return err
		}
		for _, t := range s.Types() {
			fmt.Printf("%-8s %d declared\n", t, s.Count(t))
		}
		policy := s.MatchPolicy()
		fmt.Printf("policy   %s\n", policy.String())
		if g := s.Granularity(); g != 0 {
			fmt.Printf("granularity %s\n", humanize.IBytes(g))
		}
		return nil
	},
}

func init() {
	specDeriveCmd.Flags().StringVarP(&specOutput, "output", "o", "", "Output file (default stdout)")
	specCmd.AddCommand(specDeriveCmd)
	specCmd.AddCommand(specCheckCmd)
}
