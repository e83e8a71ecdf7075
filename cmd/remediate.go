package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwatch/tagwatch/internal/config"
)

var remediateCmd = &cobra.Command{
	Use:   "remediate <namespace> <name>",
	Short: "commits the latest known tag of a workload to its gitops repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		w, err := store.LatestSnapshot(args[1], args[0])
		if err != nil {
			return err
		}
		scanner, closeNotifiers, err := newScanner(cmd.Context(), cfg, store, nil)
		if err != nil {
			return err
		}
		defer closeNotifiers()

		result, err := scanner.Remediate(cmd.Context(), w)
		if err != nil {
			return fmt.Errorf("remediation stopped in state %s: %w", result.State, err)
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(remediateCmd)
}
