package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type ServerConfig struct {
	Port      int     `yaml:"port"`
	BaseURL   string  `yaml:"base_url"`
	LogLevel  string  `yaml:"log_level"`
	LogFormat string  `yaml:"log_format"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst int     `yaml:"rate_burst"`

	// Addresses or CIDR ranges whose X-Forwarded-For header is believed
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies. A bare address becomes a single-host prefix.
func (s ServerConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("config: trusted proxy %q: %w", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("config: trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
}

type StorageConfig struct {
	ClientTTL   time.Duration    `yaml:"client_ttl"`
	ImageScheme string           `yaml:"image_scheme"` // empty disables image derivation
	EnableTemp  bool             `yaml:"enable_temp"`
	Filesystem  FilesystemConfig `yaml:"filesystem"`
	S3          S3Config         `yaml:"s3"`
	GCS         S3Config         `yaml:"gcs"`
	Azure       AzureConfig      `yaml:"azure"`
}

type FilesystemConfig struct {
	Root string `yaml:"root"`
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Enabled reports whether the backend has enough settings to be registered
func (s S3Config) Enabled() bool {
	return s.Endpoint != "" || s.AccessKey != ""
}

type AzureConfig struct {
	AccountName string `yaml:"account_name"`
	AccountKey  string `yaml:"account_key"`
	ServiceURL  string `yaml:"service_url"`
}

func (a AzureConfig) Enabled() bool {
	return a.AccountName != "" || a.ServiceURL != ""
}

// Queue backends
const (
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	Queue        string        `yaml:"queue"`
	ReclaimAfter time.Duration `yaml:"reclaim_after"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8000,
			BaseURL:   "http://localhost:8000",
			LogLevel:  "info",
			LogFormat: "json",
			RateLimit: 50,
			RateBurst: 100,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			Name:    "samplehub",
			User:    "samplehub",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "samplehub.derivations",
			Group:  "derivers",
		},
		Storage: StorageConfig{
			ClientTTL:   60 * time.Second,
			ImageScheme: "file://",
			Filesystem:  FilesystemConfig{Root: "/data"},
			GCS:         S3Config{Endpoint: "https://storage.googleapis.com", Region: "auto"},
		},
		Worker: WorkerConfig{
			Concurrency:  4,
			Queue:        QueueRedis,
			ReclaimAfter: 5 * time.Minute,
			MaxAttempts:  5,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// SAMPLEHUB_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if _, err := c.Server.ProxyPrefixes(); err != nil {
		return err
	}
	if c.Storage.ClientTTL <= 0 {
		return fmt.Errorf("config: storage.client_ttl must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("config: worker.concurrency must be positive")
	}
	switch c.Worker.Queue {
	case QueueRedis, QueueMemory:
	default:
		return fmt.Errorf("config: unknown worker.queue %q", c.Worker.Queue)
	}
	switch c.Storage.ImageScheme {
	case "", "s3://", "gs://", "az://", "file://", "temp://":
	default:
		return fmt.Errorf("config: unknown storage.image_scheme %q", c.Storage.ImageScheme)
	}
	return nil
}
