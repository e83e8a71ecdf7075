package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "tagwatch",
	Short:         "tagwatch - watches cluster workloads for newer image tags",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging runs before config validation so that "validate config" can
// report invalid settings instead of exiting.
func initLogging() {
	level := "INFO"
	if cfg, err := config.Load(); err == nil {
		level = cfg.LogLevel
	}
	logging.InitLogger(level)
}

func init() {
	cobra.OnInitialize(initLogging)
}
