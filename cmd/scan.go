package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/kubernetes"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "runs one full scan and prints its summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		discovery, err := kubernetes.NewFromKubeconfig(cfg.WatchNamespace, cfg.AnnotationPrefix)
		if err != nil {
			return err
		}
		scanner, closeNotifiers, err := newScanner(cmd.Context(), cfg, store, discovery)
		if err != nil {
			return err
		}
		defer closeNotifiers()

		summary, err := scanner.RunScan(cmd.Context())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
