package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("SAMPLEHUB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	cfg.Server.BaseURL = GetEnvOrDefault("SAMPLEHUB_BASE_URL", cfg.Server.BaseURL)
	cfg.Server.LogLevel = GetEnvOrDefault("SAMPLEHUB_LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Server.LogFormat = GetEnvOrDefault("SAMPLEHUB_LOG_FORMAT", cfg.Server.LogFormat)
	if v := os.Getenv("SAMPLEHUB_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}

	// Database
	cfg.Database.Host = GetEnvOrDefault("SAMPLEHUB_DB_HOST", cfg.Database.Host)
	if port := os.Getenv("SAMPLEHUB_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	cfg.Database.Name = GetEnvOrDefault("SAMPLEHUB_DB_NAME", cfg.Database.Name)
	cfg.Database.User = GetEnvOrDefault("SAMPLEHUB_DB_USER", cfg.Database.User)
	cfg.Database.Password = GetEnvOrDefault("SAMPLEHUB_DB_PASSWORD", cfg.Database.Password)
	cfg.Database.SSLMode = GetEnvOrDefault("SAMPLEHUB_DB_SSLMODE", cfg.Database.SSLMode)

	// Redis
	cfg.Redis.Addr = GetEnvOrDefault("SAMPLEHUB_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = GetEnvOrDefault("SAMPLEHUB_REDIS_PASSWORD", cfg.Redis.Password)

	// Storage
	if v, ok := os.LookupEnv("SAMPLEHUB_IMAGE_SCHEME"); ok {
		cfg.Storage.ImageScheme = v
	}
	if ttl := os.Getenv("SAMPLEHUB_CLIENT_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.Storage.ClientTTL = d
		}
	}
	if v := os.Getenv("SAMPLEHUB_ENABLE_TEMP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.EnableTemp = b
		}
	}
	cfg.Storage.Filesystem.Root = GetEnvOrDefault("SAMPLEHUB_FS_ROOT", cfg.Storage.Filesystem.Root)
	cfg.Storage.S3.Endpoint = GetEnvOrDefault("SAMPLEHUB_S3_ENDPOINT", cfg.Storage.S3.Endpoint)
	cfg.Storage.S3.Region = GetEnvOrDefault("SAMPLEHUB_S3_REGION", cfg.Storage.S3.Region)
	cfg.Storage.S3.AccessKey = GetEnvOrDefault("SAMPLEHUB_S3_ACCESS_KEY", cfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = GetEnvOrDefault("SAMPLEHUB_S3_SECRET_KEY", cfg.Storage.S3.SecretKey)
	cfg.Storage.GCS.AccessKey = GetEnvOrDefault("SAMPLEHUB_GCS_ACCESS_KEY", cfg.Storage.GCS.AccessKey)
	cfg.Storage.GCS.SecretKey = GetEnvOrDefault("SAMPLEHUB_GCS_SECRET_KEY", cfg.Storage.GCS.SecretKey)
	cfg.Storage.Azure.AccountName = GetEnvOrDefault("SAMPLEHUB_AZURE_ACCOUNT", cfg.Storage.Azure.AccountName)
	cfg.Storage.Azure.AccountKey = GetEnvOrDefault("SAMPLEHUB_AZURE_KEY", cfg.Storage.Azure.AccountKey)

	// Worker
	if n := os.Getenv("SAMPLEHUB_WORKER_CONCURRENCY"); n != "" {
		if c, err := strconv.Atoi(n); err == nil {
			cfg.Worker.Concurrency = c
		}
	}
	cfg.Worker.Queue = GetEnvOrDefault("SAMPLEHUB_QUEUE", cfg.Worker.Queue)
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
