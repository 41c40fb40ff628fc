// Package logger provides structured logging setup for the agent,
// wrapping go.uber.org/zap.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger. Log is a no-op logger until Init is called.
type Logger struct {
	Log *zap.Logger
}

// New returns a Logger with a no-op zap logger installed.
func New() *Logger {
	return &Logger{Log: zap.NewNop()}
}

// Init configures the underlying zap logger at the given level
// ("debug", "info", "warn", "error"; case-insensitive). Output goes to
// stderr so stdout stays clean for command output.
func (l *Logger) Init(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	log, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	l.Log = log
	return nil
}
