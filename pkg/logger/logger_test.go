package logger

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSafeHeadersRedacts(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Content-Type", "application/json")
	h.Set("X-Empty", "")

	got := SafeHeaders(h)
	assert.Contains(t, got, "Authorization=<redacted>")
	assert.Contains(t, got, "Content-Type=application/json")
	assert.NotContains(t, got, "secret")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestHelpersUseGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Log
	Set(zap.New(core))
	defer Set(prev)

	Info("batch_flushed", "size", 3)
	Warn("drain_incomplete", "discarded", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "batch_flushed", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["size"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestInitWithFileSink(t *testing.T) {
	prev := Log
	defer Set(prev)

	path := filepath.Join(t.TempDir(), "ingest.log")
	InitWithOptions(Options{Level: "info", Format: "json", FilePath: path, MaxSizeMB: 1})
	Info("file_sink_ready")
	Sync()

	assert.FileExists(t, path)
}

func TestRedactEnv(t *testing.T) {
	assert.Equal(t, "KAFKA_SASL_PASSWORD=<redacted>", RedactEnv("KAFKA_SASL_PASSWORD=hunter2"))
	assert.Equal(t, "HOME=/root", RedactEnv("HOME=/root"))
	assert.Equal(t, "novalue", RedactEnv("novalue"))
}
