// Package logger builds the zap loggers used by every binary.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a level name onto a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Config returns the zap config for a level and an output format
// ("json" or "console")
func Config(level, format string) zap.Config {
	encoding := "json"
	encoderConfig := zap.NewProductionEncoderConfig()
	if strings.EqualFold(format, "console") {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(level)),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// New builds a logger for a level and an output format
func New(level, format string) (*zap.Logger, error) {
	return Config(level, format).Build()
}
