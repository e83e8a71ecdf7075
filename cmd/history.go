package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/jobs"
	"github.com/tagwatch/tagwatch/internal/model"
)

var (
	exportDir    string
	exportBucket string
)

var historyCmd = &cobra.Command{Use: "history", Short: "read the scan history"}

func printWorkloads(cmd *cobra.Command, workloads []model.Workload) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tNAME\tCURRENT\tLATEST\tSTATUS\tLAST SCANNED")
	for _, w := range workloads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			w.Namespace, w.Name, w.CurrentVersion, w.LatestVersion, w.UpdateAvailable, w.LastScanned)
	}
	return tw.Flush()
}

var historyList = &cobra.Command{
	Use:   "list",
	Short: "lists the latest snapshot of every workload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(config.GetConfig())
		if err != nil {
			return err
		}
		workloads, err := store.LatestSnapshotsAll()
		if err != nil {
			return err
		}
		return printWorkloads(cmd, workloads)
	},
}

var historyShow = &cobra.Command{
	Use:   "show <namespace> <name>",
	Short: "shows every snapshot of one workload, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(config.GetConfig())
		if err != nil {
			return err
		}
		records, err := store.History(args[1], args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("%w: workload %s/%s", model.ErrNotFound, args[0], args[1])
		}
		workloads := make([]model.Workload, 0, len(records))
		for _, r := range records {
			workloads = append(workloads, r.Workload())
		}
		return printWorkloads(cmd, workloads)
	},
}

var historyExport = &cobra.Command{
	Use:   "export",
	Short: "writes the full scan history as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		if exportDir == "" {
			if exportDir, err = os.Getwd(); err != nil {
				return err
			}
		}
		bucket := exportBucket
		if bucket == "" {
			bucket = cfg.ExportBucket
		}
		exporter, err := jobs.NewExporter(store, exportDir, bucket, cfg.ExportRegion)
		if err != nil {
			return err
		}
		path, err := exporter.ExportHistory(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyList)
	historyCmd.AddCommand(historyShow)
	historyCmd.AddCommand(historyExport)
	historyExport.Flags().StringVarP(&exportDir, "output", "o", "", "directory for the CSV report (default: current directory)")
	historyExport.Flags().StringVar(&exportBucket, "s3-bucket", "", "upload the report to this S3 bucket")
}
