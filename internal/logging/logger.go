// internal/logging/logger.go
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Context keys
type contextKey string

var ContextKeyRequestID = contextKey("request_id")

// Config configures a logger
type Config struct {
	Level  string    `yaml:"level"`
	Format string    `yaml:"format"`
	Output io.Writer `yaml:"-"`
}

// ApplyDefaults fills in default values
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
}

// Validate checks configuration
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging: invalid level: %s", c.Level)
	}
	switch c.Format {
	case FormatJSON, FormatConsole:
		return nil
	default:
		return fmt.Errorf("logging: invalid format: %s", c.Format)
	}
}

// New builds a zap logger writing to cfg.Output
func New(cfg Config) (*zap.Logger, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := zap.ParseAtomicLevel(cfg.Level)

	var encoder zapcore.Encoder
	if cfg.Format == FormatConsole {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if cfg.Output != os.Stderr && cfg.Output != os.Stdout {
			ec.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(ec)
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.MessageKey = "message"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(cfg.Output)), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)), nil
}

// WithRequestID stores the request id for FromContext
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// FromContext returns logger annotated with the request id in ctx, if any.
func FromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok && id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}
