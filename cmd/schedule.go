package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/scheduler"
)

var scheduleCmd = &cobra.Command{Use: "schedule", Short: "inspect the scan schedule"}

var scheduleNext = &cobra.Command{
	Use:   "next",
	Short: "prints the next scheduled scan time and the schedule it comes from",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		sched, err := scheduler.New(cfg.System.Schedule, false, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", sched.NextScanTime(), sched.Expression())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleNext)
}
