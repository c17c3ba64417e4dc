// Package logging builds the logr.Logger used across cloudanchor, backed by zap.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels passed to logr's V.
const (
	DEFAULT = 0
	DEBUG   = 1
)

// ParseLevel maps a configured level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.Level(-1 * DEBUG), nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// New creates a logger at level. Development mode logs human-readable
// console lines; otherwise JSON.
func New(level string, development bool) (logr.Logger, error) {
	return build(level, development, "stderr")
}

// NewFile is New writing to the file at path instead of stderr, for commands
// that own the terminal. Entries are appended.
func NewFile(level string, development bool, path string) (logr.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return logr.Discard(), fmt.Errorf("create log dir: %w", err)
	}
	return build(level, development, path)
}

func build(level string, development bool, output string) (logr.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return logr.Discard(), err
	}

	cfg := uberzap.NewProductionConfig()
	if development {
		cfg = uberzap.NewDevelopmentConfig()
	}
	cfg.Level = uberzap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{output}

	zl, err := cfg.Build(uberzap.AddCaller())
	if err != nil {
		return logr.Discard(), fmt.Errorf("build logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

// NewTestLogger creates a development logger with debug output enabled.
func NewTestLogger() logr.Logger {
	zl, err := uberzap.NewDevelopment()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}

// Sync flushes buffered entries of a zap-backed logger.
func Sync(log logr.Logger) {
	if u, ok := log.GetSink().(zapr.Underlier); ok {
		_ = u.GetUnderlying().Sync()
	}
}
