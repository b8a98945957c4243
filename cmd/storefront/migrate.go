package main

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply catalog and remote store migrations",
	Long: `Applies the SQLite catalog migrations and, when the remote driver is
postgres, the cart_items/purchase_history schema. MongoDB indexes are
created as part of this step too.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		return runMigrations(cmd.Context(), cfg, log)
	},
}

func runMigrations(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	cat, err := catalog.NewSQLiteCatalog(cfg.CatalogDBPath)
	if err != nil {
		return err
	}
	defer cat.Close()

	if err := cat.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		return fmt.Errorf("catalog migrations: %w", err)
	}
	log.Info("catalog migrations applied", zap.String("path", cfg.CatalogDBPath))

	remote, err := openRemote(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info("remote store ready", zap.String("driver", cfg.RemoteDriver))
	return remote.Close(ctx)
}
