package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/config"
	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/metrics"
)

// NewFromConfig builds the scheme table from configuration. The filesystem
// backend is always registered; object stores only when configured; the
// memory backend only when enabled.
func NewFromConfig(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Router {
	r := NewRouter(logger, WithClientCache(NewClientCache(cfg.Storage.ClientTTL)), WithMetrics(m))

	retry := func(d drivers.Driver) drivers.Driver {
		return drivers.NewRetryDriver(d, drivers.NewRetryPolicy(drivers.WithLogger(logger)))
	}

	root, baseURL := cfg.Storage.Filesystem.Root, cfg.Server.BaseURL
	r.Register(drivers.SchemeFile, drivers.KindFile, func(ctx context.Context) (drivers.Driver, error) {
		return drivers.NewLocalDriver(root, baseURL, logger), nil
	})

	if s3cfg := cfg.Storage.S3; s3cfg.Enabled() {
		r.Register(drivers.SchemeS3, drivers.KindS3, func(ctx context.Context) (drivers.Driver, error) {
			d, err := drivers.NewS3Driver(ctx, drivers.SchemeS3, toDriverS3(s3cfg), logger)
			if err != nil {
				return nil, err
			}
			return retry(d), nil
		})
	}

	if gcs := cfg.Storage.GCS; gcs.AccessKey != "" {
		r.Register(drivers.SchemeGCS, drivers.KindGCS, func(ctx context.Context) (drivers.Driver, error) {
			d, err := drivers.NewS3Driver(ctx, drivers.SchemeGCS, toDriverS3(gcs), logger)
			if err != nil {
				return nil, err
			}
			return retry(d), nil
		})
	}

	if az := cfg.Storage.Azure; az.Enabled() {
		r.Register(drivers.SchemeAzure, drivers.KindAzure, func(ctx context.Context) (drivers.Driver, error) {
			d, err := drivers.NewAzureDriver(drivers.AzureConfig{
				AccountName: az.AccountName,
				AccountKey:  az.AccountKey,
				ServiceURL:  az.ServiceURL,
			}, logger)
			if err != nil {
				return nil, err
			}
			return retry(d), nil
		})
	}

	if cfg.Storage.EnableTemp {
		RegisterMemory(r, drivers.NewMemoryDriver())
	}

	logger.Info("storage router ready", zap.Strings("schemes", r.Schemes()))
	return r
}

// RegisterMemory maps temp:// to mem. The same instance is handed out after
// every cache eviction so its contents persist.
func RegisterMemory(r *Router, mem *drivers.MemoryDriver) {
	r.Register(drivers.SchemeTemp, drivers.KindTemp, func(ctx context.Context) (drivers.Driver, error) {
		return mem, nil
	})
}

func toDriverS3(c config.S3Config) drivers.S3Config {
	return drivers.S3Config{
		Endpoint:     c.Endpoint,
		Region:       c.Region,
		AccessKey:    c.AccessKey,
		SecretKey:    c.SecretKey,
		UsePathStyle: c.UsePathStyle,
	}
}
