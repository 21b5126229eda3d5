// Tablestage - session orchestration and NPC staging server
package main

import (
	"log/slog"
	"os"

	"github.com/ashureev/tablestage/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	cmd := &cobra.Command{
		Use:           "tablestage",
		Short:         "Tabletop session and NPC staging server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.Version = Version
	cmd.AddCommand(serve, newMigrateCmd())
	return cmd
}

// setup loads the environment and installs the default logger.
func setup() (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
