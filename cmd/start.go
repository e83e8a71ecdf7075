package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tagwatch/tagwatch/internal/api"
	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/kubernetes"
	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "starts the api server and the scan scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.GetLogger()
		cfg := config.GetConfig()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		discovery, err := kubernetes.NewFromKubeconfig(cfg.WatchNamespace, cfg.AnnotationPrefix)
		if err != nil {
			return err
		}
		scanner, closeNotifiers, err := newScanner(ctx, cfg, store, discovery)
		if err != nil {
			return err
		}
		defer closeNotifiers()

		sched, err := scheduler.New(cfg.System.Schedule, cfg.System.RunAtStartup, func(ctx context.Context) error {
			summary, err := scanner.RunScan(ctx)
			if err == nil {
				log.Infof("scan %d finished: %d workloads, %d updates, %d failures",
					summary.ScanID, summary.Processed, summary.UpdatesFound, summary.Failures)
			}
			return err
		})
		if err != nil {
			return err
		}

		log.Infof("starting tagwatch with schedule %q, next scan at %s", sched.Expression(), sched.NextScanTime())
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sched.Run(ctx)
			return nil
		})
		g.Go(func() error {
			return api.NewServer(cfg, store, scanner, sched, discovery).Start(ctx)
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
