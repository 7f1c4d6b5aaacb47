package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	logger := New(Options{Writer: &buf})

	// Act
	logger.Info("cache hit", slog.String("cache_key", "fp_1"))

	// Assert
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cache hit", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "fp_1", entry["cache_key"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "TEXT", Writer: &buf})

	logger.Warn("retrying", slog.Int("attempt", 2))

	out := buf.String()
	assert.Contains(t, out, "retrying")
	assert.Contains(t, out, "attempt=2")
	assert.False(t, strings.HasPrefix(out, "{"))
	assert.NotContains(t, out, "\x1b[", "colors are off for non-terminal writers")
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
	}

	for _, tt := range tests {
		t.Run("level="+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Options{Level: tt.level, Writer: &buf})

			logger.Debug("d-msg")
			logger.Info("i-msg")
			logger.Warn("w-msg")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "d-msg"))
			assert.Equal(t, tt.wantInfo, strings.Contains(out, "i-msg"))
			assert.Equal(t, tt.wantWarn, strings.Contains(out, "w-msg"))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestFromContext(t *testing.T) {
	t.Run("default logger when absent", func(t *testing.T) {
		assert.Equal(t, slog.Default(), FromContext(context.Background()))
	})

	t.Run("stored logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(Options{Writer: &buf})
		ctx := WithLogger(context.Background(), logger)

		FromContext(ctx).Info("hello")

		assert.Contains(t, buf.String(), "hello")
	})

	t.Run("request id is attached", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithLogger(context.Background(), New(Options{Writer: &buf}))
		ctx = WithRequestID(ctx, "req-42")

		FromContext(ctx).Info("processing")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "req-42", entry["request_id"])
	})
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	assert.Equal(t, "abc", RequestID(WithRequestID(context.Background(), "abc")))
}
