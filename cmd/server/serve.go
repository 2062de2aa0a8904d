package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/PatientImport/internal/core"
	"github.com/JonMunkholm/PatientImport/internal/store"
	"github.com/JonMunkholm/PatientImport/internal/web"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	return cmd
}

func runServer(ctx context.Context, migrate bool) error {
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if migrate {
		n, err := store.NewMigrator(e.pool).Up(ctx)
		if err != nil {
			return err
		}
		slog.Info("migrations applied", "count", n)
	}

	service := core.NewService(store.New(e.pool), serviceOptions(e.cfg.Import))
	server := web.NewServer(service, e.cfg)

	slog.Info("configuration loaded",
		"addr", e.cfg.Server.Addr(),
		"db_max_conns", e.cfg.Database.MaxConns,
		"import_max_concurrent", e.cfg.Import.MaxConcurrent,
		"require_auth", e.cfg.Security.RequireAuth,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Server.ShutdownTimeout)
	defer cancel()

	if active := service.Limiter().ActiveCount(); active > 0 {
		slog.Info("cancelling running imports", "active", active)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		slog.Warn("imports did not stop in time", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}
