package main

import (
	"fmt"

	"github.com/ashureev/tablestage/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the SQLite schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			if err := repo.Close(); err != nil {
				return fmt.Errorf("close database: %w", err)
			}
			logger.Info("Schema ready", "db_path", cfg.DBPath)
			return nil
		},
	}
}
