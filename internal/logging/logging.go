// Package logging builds the zap loggers used by the optimizer and the CLI.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level maps an optimizer verbosity to a zap level. Verbosity 0 disables
// logging; 1 keeps warnings and the final summary, 2 and above add one line
// per iteration. The optimizer adds backward retries and line-search
// candidates at verbosity 3.
func Level(verbosity int) zapcore.Level {
	if verbosity <= 1 {
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// New returns a console logger on stderr for the given verbosity.
func New(verbosity int) (*zap.Logger, error) {
	if verbosity <= 0 {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(Level(verbosity))
	cfg.DisableStacktrace = true
	cfg.DisableCaller = verbosity < 3
	cfg.EncoderConfig.TimeKey = ""
	return cfg.Build()
}

// Must is New for callers that cannot recover; it falls back to a no-op logger.
func Must(verbosity int) *zap.Logger {
	l, err := New(verbosity)
	if err != nil {
		return zap.NewNop()
	}
	return l
}
