package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestFromContext_ReturnsStoredLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "info", "json").With("run_id", "r-1", "request_id", "req-42")

	ctx := NewContext(context.Background(), base)
	ctx = context.WithValue(ctx, middleware.RequestIDKey, "req-42")

	WithFields(ctx, "source", "extract.csv").Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "r-1", entry["run_id"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "extract.csv", entry["source"])
}

func TestFromContext_DefaultLoggerGetsRequestID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(New(&buf, "info", "json"))

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")
	FromContext(ctx).Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-7", entry["request_id"])
}

func TestFromContext_NestedLoggersKeepOneRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-9")
	ctx = NewContext(ctx, New(&buf, "info", "json").With("request_id", "req-9"))

	// a handler storing a derived logger, then a run deriving from that
	ctx = NewContext(ctx, WithFields(ctx, "upload", "daily.csv"))
	WithFields(ctx, "run_id", "r-2").Info("batch run started")

	assert.Equal(t, 1, strings.Count(buf.String(), `"request_id"`), buf.String())
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "text")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestSetup_ReplacesDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup(&buf, "debug", "json")
	assert.Same(t, logger, slog.Default())

	slog.Debug("via default", "k", "v")
	assert.Contains(t, buf.String(), `"k":"v"`)
}
