// cmd/samplehub/serve.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/samplehub/internal/api"
	"github.com/FairForge/samplehub/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the HTTP API",
	Long: "Starts the HTTP API. With the memory queue the derivation workers " +
		"run inside the same process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		svc, err := a.service()
		if err != nil {
			return err
		}
		server := api.NewServer(cfg.Server, svc, a.metrics, a.logger)

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			a.logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		if cfg.Worker.Queue == config.QueueMemory {
			eg.Go(func() error { return a.pool().Run(ctx) })
		}

		err = eg.Wait()
		if err != nil {
			a.logger.Error("server stopped", zap.Error(err))
		}
		return err
	},
}
