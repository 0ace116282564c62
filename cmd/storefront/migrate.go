package main

import (
	"fmt"
	"log/slog"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init(cfg.LogLevel)

			repo, err := repository.NewRepository(&cfg.DB)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer repo.Close()

			if err := repo.RunMigrations(&cfg.DB); err != nil {
				return err
			}
			slog.Info("database migrations completed")
			return nil
		},
	}
}
