// Package logger holds the process-wide zap logger. Init is called once from
// the CLI entrypoint; everything else obtains the logger through Logger().
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global *zap.SugaredLogger

// Init builds and installs the global logger at the requested level.
// Valid levels: debug, info, warn, error.
func Init(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	zap.ReplaceGlobals(z)
	global = z.Sugar()
	return nil
}

// InitWith installs an externally built logger. Used by tests.
func InitWith(z *zap.SugaredLogger) { global = z }

// Logger returns the global sugared logger. It must return a non-nil
// logger even before Init, so callers never have to nil-check.
func Logger() *zap.SugaredLogger {
	if global == nil {
		return zap.NewNop().Sugar()
	}
	return global
}
