// Package log wraps zap with a printf-style call-site shape
// (Debug/Info/Warn/Error/Success/Fatal/Section/Banner) for the login and
// base apps' console output.
package log

import (
	"fmt"

	"go.uber.org/zap"
)

var base *zap.SugaredLogger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l.Sugar()
}

// SetLevel swaps the process-wide logger for one built at the given zap
// level ("debug", "info", "warn", "error").
func SetLevel(levelName string) error {
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("log: build logger: %w", err)
	}
	base = l.Sugar()
	return nil
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	_ = base.Sync()
}

// Debug logs at debug level.
func Debug(format string, args ...interface{}) {
	base.Debugf(format, args...)
}

// Info logs at info level.
func Info(format string, args ...interface{}) {
	base.Infof(format, args...)
}

// Warn logs at warn level.
func Warn(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

// Error logs at error level.
func Error(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

// Success logs a notable positive outcome at info level, tagged so it
// reads distinctly in structured log output.
func Success(format string, args ...interface{}) {
	base.Infow(fmt.Sprintf(format, args...), "outcome", "success")
}

// Fatal logs at fatal level and exits the process.
func Fatal(format string, args ...interface{}) {
	base.Fatalf(format, args...)
}

// Section logs a structural marker separating phases of startup or a long
// batch operation.
func Section(title string) {
	base.Infow(title, "section", true)
}

// Banner logs the one-line startup identity record: app name, version.
func Banner(title, version string) {
	base.Infow("starting", "app", title, "version", version)
}
