// Package logger centralizes zap construction for both the server and
// client entrypoints so every goroutine in this module logs through the
// same encoder and level.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger. local selects a human-readable console
// encoder at debug level; otherwise it builds a production JSON logger.
func New(local bool) (*zap.Logger, error) {
	if local {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

// Must panics if logger construction fails, for entrypoints where a
// broken logger means nothing downstream can run anyway.
func Must(local bool) *zap.Logger {
	l, err := New(local)
	if err != nil {
		panic(err)
	}
	return l
}
