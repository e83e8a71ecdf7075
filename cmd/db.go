package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwatch/tagwatch/internal/config"
	database "github.com/tagwatch/tagwatch/internal/db"
)

var migrateCmd = &cobra.Command{Use: "migrate", Short: "migrate database"}

var migrateUp = &cobra.Command{
	Use:   "up",
	Short: "Forward database migration",
	Long:  "Forward database migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		gdb, err := database.Open(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("unable to open database: %w", err)
		}
		if err := database.Migrate(gdb, cfg.DBDriver); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
		return nil
	},
}

var dbCmd = &cobra.Command{Use: "db", Short: "Use to migrate database"}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUp)
}
