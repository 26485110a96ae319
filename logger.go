package auth

import (
	"log/slog"
	"os"
)

// Logger is the structured logger used across the package.
// Arguments after the message are key value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers
type LoggerProvider interface {
	GetLogger(name string) Logger
}

type defLogger struct {
	lgr *slog.Logger
}

func newDefLogger(name string) defLogger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return defLogger{lgr: slog.New(handler).With("logger", name)}
}

func (d defLogger) Debug(msg string, args ...any) { d.lgr.Debug(msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.lgr.Info(msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.lgr.Warn(msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.lgr.Error(msg, args...) }

type defLoggerProvider struct{}

func (defLoggerProvider) GetLogger(name string) Logger {
	return newDefLogger(name)
}

// ResolveLogger picks the logger for a component. An explicit logger
// wins, then the provider, then the default stderr logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	if logger != nil {
		return logger
	}
	if provider == nil {
		provider = defLoggerProvider{}
	}
	if lgr := provider.GetLogger(name); lgr != nil {
		return lgr
	}
	return newDefLogger(name)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything
func NopLogger() Logger {
	return nopLogger{}
}
