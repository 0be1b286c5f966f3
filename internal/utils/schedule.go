package utils

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Sleep waits for d or until ctx is done. Reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Every waits interval() and then runs fn, repeatedly, until ctx is done.
// The interval is read before each wait so configuration changes apply on
// the next cycle. A panic in fn is logged and the loop continues.
func Every(ctx context.Context, logger *slog.Logger, interval func() time.Duration, fn func(ctx context.Context)) {
	for Sleep(ctx, interval()) {
		if err := Safe(func() { fn(ctx) }); err != nil {
			logger.Error("periodic task panicked", "error", err)
		}
	}
}

// Safe calls fn and converts a panic into an error carrying the stack.
func Safe(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
	return nil
}
