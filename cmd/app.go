package cmd

import (
	"context"

	"github.com/tagwatch/tagwatch/internal/config"
	database "github.com/tagwatch/tagwatch/internal/db"
	"github.com/tagwatch/tagwatch/internal/gitops"
	"github.com/tagwatch/tagwatch/internal/history"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/registry"
	"github.com/tagwatch/tagwatch/internal/services"
)

func openStore(cfg *config.Config) (*history.Store, error) {
	gdb, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	store := history.NewStore(gdb, cfg.DBDriver)
	if err := store.EnsureSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

// newScanner wires the notification channels, remediation engine and
// registry resolver around store. lister may be nil for commands that never
// run a full scan.
func newScanner(ctx context.Context, cfg *config.Config, store *history.Store, lister services.WorkloadLister) (*services.Scanner, func(), error) {
	dispatcher, closeNotifiers, err := notifications.FromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	engine := gitops.NewEngine(cfg, dispatcher)
	scanner := services.NewScanner(
		lister,
		registry.NewResolver(cfg.RegistryTimeout),
		store,
		dispatcher,
		engine,
		services.WithAutoRemediation(cfg.System.AutoRemediate),
	)
	return scanner, closeNotifiers, nil
}
