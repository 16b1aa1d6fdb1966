package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestManualClock(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewManualClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(time.Second)
	fired := <-c.After(2 * time.Second)
	assert.Equal(t, start.Add(3*time.Second), fired)
	assert.Equal(t, start.Add(3*time.Second), c.Now())
	assert.Equal(t, []time.Duration{2 * time.Second}, c.Waits())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"loud":  zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	logger, err := NewLoggerWithFile(path, "info")
	require.NoError(t, err)

	logger.Sugar().Infow("order_submitted", "user", "u1")
	logger.Sugar().Debugw("filtered_out")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"order_submitted"`)
	assert.Contains(t, string(raw), `"user":"u1"`)
	assert.NotContains(t, string(raw), "filtered_out")
}
