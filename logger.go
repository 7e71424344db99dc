package gfx

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gfx/shaderc"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the package logger. Accessed atomically so SetLogger
// can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gfx and its sub-packages.
// By default gfx produces no log output. Pass nil to restore the silent
// default.
//
// Log levels used by gfx:
//   - [slog.LevelDebug]: object creation and destruction, heap blocks, barrier batches
//   - [slog.LevelInfo]: backend and swapchain lifecycle
//   - [slog.LevelWarn]: leaked handles at Close, failed descriptor frees
//   - [slog.LevelError]: native device failures
//
// Backends created with WithLogger keep their own logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	shaderc.SetLogger(l)
}

// Logger returns the current package logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by native devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes l to dev if it implements loggerSetter.
func propagateLogger(dev any, l *slog.Logger) {
	if ls, ok := dev.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// log returns the backend logger, falling back to the package logger.
func (b *Backend) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return Logger()
}
