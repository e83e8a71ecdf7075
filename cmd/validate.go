package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/jobs"
)

var validateCmd = &cobra.Command{Use: "validate", Short: "Validate tagwatch settings and reports"}

var validateConfig = &cobra.Command{
	Use:   "config",
	Short: "Loads the settings and prints them without credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(cfg.Redacted(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var validateCSV = &cobra.Command{
	Use:   "csv [history csv file path]",
	Short: "Validate an exported history CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		counts, err := jobs.SnapshotCounts(f)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d snapshots\n", k, counts[k])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Number of workloads - %v\n", len(counts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.AddCommand(validateConfig)
	validateCmd.AddCommand(validateCSV)
}
