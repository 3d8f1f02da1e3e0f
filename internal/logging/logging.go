package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Mode is "production" (JSON, info),
// "development" (console, debug) or "quiet" (console, warnings only).
func New(mode string) (*zap.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "development", "dev", "debug":
		return zap.NewDevelopment()
	case "quiet":
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		cfg.DisableStacktrace = true
		return cfg.Build()
	default:
		return zap.NewProduction()
	}
}
