package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"INFO", zap.InfoLevel},
		{"warn", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"", zap.InfoLevel},
		{"chatty", zap.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

func TestConfigEncoding(t *testing.T) {
	assert.Equal(t, "json", Config("info", "json").Encoding)
	assert.Equal(t, "json", Config("info", "").Encoding)
	assert.Equal(t, "console", Config("info", "console").Encoding)
	assert.Equal(t, zap.DebugLevel, Config("debug", "json").Level.Level())
}

func TestNew(t *testing.T) {
	l, err := New("warn", "console")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))
}
