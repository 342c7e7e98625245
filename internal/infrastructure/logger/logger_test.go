package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ordo/vendor-engine/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"console format", config.LogConfig{Level: "debug", Format: "console", Output: "stdout"}},
		{"json format", config.LogConfig{Level: "info", Format: "json", Output: "stderr"}},
		{"empty output falls back to stdout", config.LogConfig{Level: "warn", Format: "json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(&tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestNewForEnvironment(t *testing.T) {
	dev, err := NewForEnvironment("development")
	require.NoError(t, err)
	assert.NotNil(t, dev)

	prod, err := NewForEnvironment("production")
	require.NoError(t, err)
	assert.NotNil(t, prod)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("anything-else"))
}
