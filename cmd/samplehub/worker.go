// cmd/samplehub/worker.go
package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FairForge/samplehub/internal/config"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Runs derivation workers against the Redis queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Worker.Queue != config.QueueRedis {
			return fmt.Errorf("worker needs worker.queue=%s, got %q", config.QueueRedis, cfg.Worker.Queue)
		}
		if cfg.Database.Host == "" {
			return fmt.Errorf("worker needs a database shared with the API")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		return a.pool().Run(ctx)
	},
}
