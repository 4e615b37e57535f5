// internal/logging/logger_test.go
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		config := &Config{Level: "debug", Format: FormatConsole}
		assert.NoError(t, config.Validate())
	})

	t.Run("rejects invalid level", func(t *testing.T) {
		config := &Config{Level: "loud", Format: FormatJSON}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "level")
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		config := &Config{Level: "info", Format: "logfmt"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "format")
	})

	t.Run("applies defaults", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()
		assert.Equal(t, "info", config.Level)
		assert.Equal(t, FormatJSON, config.Format)
		assert.NotNil(t, config.Output)
	})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.With(zap.String("dataset", "mnist")).Info("sample registered", zap.Int64("id", 4))
	logger.Warn("derivation failed", zap.Error(errors.New("bad dtype")))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "sample registered", entries[0]["message"])
	assert.Equal(t, "mnist", entries[0]["dataset"])
	assert.Equal(t, float64(4), entries[0]["id"])
	assert.Contains(t, entries[0], "timestamp")
	assert.Equal(t, "bad dtype", entries[1]["error"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: FormatConsole, Output: &buf})
	require.NoError(t, err)

	logger.Debug("building storage client", zap.String("kind", "s3"))
	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "building storage client")
	assert.Contains(t, out, `"kind": "s3"`)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	require.NoError(t, err)

	FromContext(WithRequestID(context.Background(), "req-123"), logger).Info("handled")
	FromContext(context.Background(), logger).Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "req-123", entries[0]["request_id"])
	assert.NotContains(t, entries[1], "request_id")
}
