// Package recovery wraps goroutine and tick bodies so a single panic
// cannot take down the whole process.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Fatal should be deferred at the top of main(). It logs panic details to
// stderr via the default logger and re-panics, letting the process crash
// with a useful trace.
func Fatal() {
	if r := recover(); r != nil {
		slog.Default().Error("fatal_panic",
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())))
		panic(r)
	}
}

// Tick must be deferred directly at the top of one detection tick or
// notification job (`defer recovery.Tick(logger, "tick")`). It recovers
// any panic, logs it, and lets the enclosing goroutine's loop continue on
// its next iteration. No panic may cross a tick boundary.
func Tick(logger *slog.Logger, label string) {
	if r := recover(); r != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("recovered_panic",
			slog.String("label", label),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())))
	}
}

// Wrap runs fn, recovering any panic into an error rather than letting it
// propagate, for callers that need the failure as a value (e.g. to count
// it as a failed tick) rather than a side-effecting log line.
func Wrap(logger *slog.Logger, label string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("recovered_panic",
				slog.String("label", label),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("recovery: panic in %s: %v", label, r)
		}
	}()
	fn()
	return nil
}
