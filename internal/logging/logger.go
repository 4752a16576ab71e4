// Package logging provides structured logging for tfdeck with consistent
// formatting and context support. It wraps a zap core so log output can be
// routed to a file while the TUI owns the terminal, with warn/error level
// logging and structured key-value pairs for debugging and monitoring.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with context.
type Logger struct {
	s *zap.SugaredLogger
}

var (
	mu   sync.RWMutex
	base = newStderrLogger(zapcore.WarnLevel)
)

// newStderrLogger builds a console logger writing to stderr at the given
// level. Used before Setup runs, so early failures are still visible.
func newStderrLogger(level zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

// Setup switches the package logger to write JSON entries to the given file
// at the given level. The file's directory is created if needed. Once the
// TUI takes over the terminal this is the only sink that does not corrupt
// the display.
func Setup(level, file string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{file}
	cfg.ErrorOutputPaths = []string{file}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	base = logger
	return nil
}

// SetLevel rebuilds the pre-Setup stderr logger at the given level. It has no
// effect after Setup has routed output to a file.
func SetLevel(level zapcore.Level) {
	mu.Lock()
	defer mu.Unlock()
	base = newStderrLogger(level)
}

// Base returns the underlying zap logger, for injection into packages that
// take a *zap.Logger directly.
func Base() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Close flushes any buffered log entries. Call before process exit.
func Close() {
	// Sync on stderr returns ENOTTY-style errors; they are harmless.
	_ = Base().Sync()
}

// New returns a Logger backed by the current package logger.
func New() *Logger {
	return &Logger{s: Base().Sugar()}
}

// FromZap wraps an existing zap logger. For tests and embedders that build
// their own core.
func FromZap(base *zap.Logger) *Logger {
	return &Logger{s: base.Sugar()}
}

// Base returns the underlying zap logger, keeping any context fields added
// with With. For packages that take a *zap.Logger directly.
func (l *Logger) Base() *zap.Logger {
	return l.s.Desugar()
}

// With returns a new Logger with an additional context field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{s: l.s.With(key, value)}
}

// WithFields returns a new Logger with multiple additional context fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{s: l.s.With(args...)}
}

// Debug logs a message at debug level with optional key-value pairs.
func (l *Logger) Debug(msg string, keyVals ...interface{}) {
	l.s.Debugw(msg, keyVals...)
}

// Info logs a message at info level with optional key-value pairs.
func (l *Logger) Info(msg string, keyVals ...interface{}) {
	l.s.Infow(msg, keyVals...)
}

// Warn logs a message at warn level with optional key-value pairs.
func (l *Logger) Warn(msg string, keyVals ...interface{}) {
	l.s.Warnw(msg, keyVals...)
}

// Error logs a message at error level with optional key-value pairs.
func (l *Logger) Error(msg string, keyVals ...interface{}) {
	l.s.Errorw(msg, keyVals...)
}

// Package-level convenience functions using the current logger.

// Debug logs a message at debug level.
func Debug(msg string, keyVals ...interface{}) { New().Debug(msg, keyVals...) }

// Info logs a message at info level.
func Info(msg string, keyVals ...interface{}) { New().Info(msg, keyVals...) }

// Warn logs a message at warn level.
func Warn(msg string, keyVals ...interface{}) { New().Warn(msg, keyVals...) }

// Error logs a message at error level.
func Error(msg string, keyVals ...interface{}) { New().Error(msg, keyVals...) }
