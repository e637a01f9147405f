// Package main implements the entry point for the bank API server, which
// accepts transfer and risk assessment requests over HTTP and executes them
// as background tasks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/phrazzld/bank-api/internal/config"
	"github.com/phrazzld/bank-api/internal/platform/logger"
	"github.com/phrazzld/bank-api/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree: the root command serves the API and
// "migrate" manages the database schema.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "bank-api",
		Short:         "Asynchronous banking task server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (default ./config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:       "migrate [up|down|status|version|reset|redo]",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "version", "reset", "redo"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath, args[0])
		},
	})

	return root
}

// initializeApp loads configuration and sets up logging.
func initializeApp(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"broker", cfg.Task.Broker,
		"worker_count", cfg.Task.WorkerCount)

	return cfg, l, nil
}

func runServer(ctx context.Context, configPath string) error {
	cfg, l, err := initializeApp(configPath)
	if err != nil {
		return err
	}

	db, err := setupAppDatabase(ctx, cfg, l)
	if err != nil {
		return err
	}

	if cfg.Database.RunMigrations {
		if err := postgres.Migrate(ctx, db, "up", l); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	app, err := newApplication(ctx, cfg, l, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}

func runMigrate(ctx context.Context, configPath, command string) error {
	cfg, l, err := initializeApp(configPath)
	if err != nil {
		return err
	}

	db, err := setupAppDatabase(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return postgres.Migrate(ctx, db, command, l)
}
