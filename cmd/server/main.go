// Command server runs the patient import API and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/PatientImport/internal/config"
	"github.com/JonMunkholm/PatientImport/internal/core"
	"github.com/JonMunkholm/PatientImport/internal/logging"
	"github.com/JonMunkholm/PatientImport/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "patient-import",
		Short:         "CSV patient and consultation import service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Overload lets a local .env win over stale shell exports.
			if err := godotenv.Overload(); err == nil {
				slog.Debug("loaded .env file")
			}
		},
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(importCmd())
	root.AddCommand(inspectCmd())
	return root
}

// env bundles what every database-backed command needs.
type env struct {
	cfg  *config.Config
	pool *pgxpool.Pool
}

func (e *env) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

// setup loads configuration, configures logging and connects to the
// database.
func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, pool: pool}, nil
}

// serviceOptions translates the import settings for the core service.
func serviceOptions(ic config.ImportConfig) core.ServiceOptions {
	return core.ServiceOptions{
		MaxFileSize:   ic.MaxFileSize,
		MaxConcurrent: ic.MaxConcurrent,
		MaxWait:       ic.MaxWaitTime,
		RunTimeout:    ic.RunTimeout,
		SessionTTL:    ic.SessionTTL,
		Importer: core.ImporterOptions{
			PlaceholderPhone: ic.PlaceholderPhone,
			CallTimeout:      ic.StoreCallTimeout,
			RetryBudget:      ic.RowRetryBudget,
		},
	}
}
