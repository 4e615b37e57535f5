// cmd/samplehub/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/config"
	"github.com/FairForge/samplehub/internal/database"
	"github.com/FairForge/samplehub/internal/imaging"
	"github.com/FairForge/samplehub/internal/logging"
	"github.com/FairForge/samplehub/internal/metrics"
	"github.com/FairForge/samplehub/internal/queue"
	"github.com/FairForge/samplehub/internal/samples"
	"github.com/FairForge/samplehub/internal/storage"
	"github.com/FairForge/samplehub/internal/worker"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	router  *storage.Router
	store   samples.Store
	queue   queue.Queue
	deriver *samples.Deriver
	closers []func() error
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	return config.Load(path)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(logging.Config{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}
	a.router = storage.NewFromConfig(cfg, a.metrics, logger)
	logger.Info("storage backends registered", zap.Strings("schemes", a.router.Schemes()))

	if err := a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.openQueue(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.deriver = samples.NewDeriver(a.store, imaging.NewEngine(a.router, a.metrics, logger), a.metrics, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Database.Host == "" {
		a.logger.Warn("no database configured, keeping samples in memory")
		a.store = samples.NewMemoryStore()
		return nil
	}

	db, err := database.NewPostgres(a.cfg.Database.DSN())
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := db.CreateTables(ctx); err != nil {
		return err
	}
	a.store = db
	return nil
}

func (a *app) openQueue(ctx context.Context) error {
	qcfg := queue.Config{
		MaxAttempts:       a.cfg.Worker.MaxAttempts,
		VisibilityTimeout: a.cfg.Worker.ReclaimAfter,
	}

	switch a.cfg.Worker.Queue {
	case config.QueueMemory:
		q := queue.NewMemoryQueue(qcfg)
		a.queue = q
		a.closers = append(a.closers, q.Close)
		return nil
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		qcfg.ApplyDefaults()
		q, err := queue.NewRedisQueue(ctx, client, a.cfg.Redis.Stream, a.cfg.Redis.Group, a.logger,
			queue.WithConfig(qcfg))
		if err != nil {
			_ = client.Close()
			return err
		}
		a.queue = q
		a.closers = append(a.closers, q.Close)
		return nil
	}
}

func (a *app) service() (*samples.Service, error) {
	return samples.NewService(samples.Config{
		Store:       a.store,
		Router:      a.router,
		Scheduler:   samples.NewScheduler(a.router, a.deriver, a.queue, a.logger),
		ImageScheme: a.cfg.Storage.ImageScheme,
		Logger:      a.logger,
	})
}

func (a *app) pool() *worker.Pool {
	return worker.NewPool(a.queue, a.deriver,
		worker.WithConcurrency(a.cfg.Worker.Concurrency),
		worker.WithReclaimAfter(a.cfg.Worker.ReclaimAfter),
		worker.WithMetrics(a.metrics),
		worker.WithLogger(a.logger.Named("worker")))
}

// Close releases the queue and database in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
