package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNewJSONLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, "research-worker", "warn")

	logger.Info("dropped")
	logger.Warn("retry_attempt", zap.String("operation", "web_search"), zap.Int("attempt", 2))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &record))
	assert.Equal(t, "retry_attempt", record["msg"])
	assert.Equal(t, "research-worker", record["service"])
	assert.Equal(t, "web_search", record["operation"])
	assert.Equal(t, "warn", record["level"])
}
