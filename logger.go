package bufmap

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for bufmap and its backend packages.
// By default, bufmap produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by bufmap:
//   - [slog.LevelDebug]: rejected YCbCr layouts and which plane failed
//   - [slog.LevelInfo]: backend selection
//   - [slog.LevelWarn]: failed backend calls
//   - [slog.LevelError]: handle registration that the backend cannot support
//
// Example:
//
//	bufmap.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	liveMu.Lock()
	backends := make([]any, 0, len(liveBackends))
	for b := range liveBackends {
		backends = append(backends, b)
	}
	liveMu.Unlock()
	for _, b := range backends {
		propagateLogger(b, l)
	}
}

// Logger returns the current logger used by bufmap.
// Backend packages call this to share the same logger configuration.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a backend if it implements
// the loggerSetter interface.
func propagateLogger(b any, l *slog.Logger) {
	if ls, ok := b.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// liveBackends counts the open BufferMappers of every backend so that
// SetLogger reaches them.
var (
	liveMu       sync.Mutex
	liveBackends = make(map[any]int)
)

func trackBackend(b any) {
	propagateLogger(b, Logger())
	if !reflect.TypeOf(b).Comparable() {
		return
	}
	liveMu.Lock()
	liveBackends[b]++
	liveMu.Unlock()
}

// untrackBackend drops one reference to b and reports whether it was the
// last one.
func untrackBackend(b any) bool {
	if !reflect.TypeOf(b).Comparable() {
		return true
	}
	liveMu.Lock()
	defer liveMu.Unlock()

	n := liveBackends[b] - 1
	if n > 0 {
		liveBackends[b] = n
		return false
	}
	delete(liveBackends, b)
	return true
}

// releaseBackend is the cleanup of a BufferMapper that was never closed.
func releaseBackend(b any) {
	untrackBackend(b)
}
