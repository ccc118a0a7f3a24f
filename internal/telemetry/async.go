package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackgroundTimeout bounds a single fire-and-forget step (fan-out, webhook, publish).
const BackgroundTimeout = 15 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight background steps before
// closing providers. Must be >= BackgroundTimeout.
const ShutdownDrainDuration = BackgroundTimeout

// RunAsync runs fn in a goroutine on a fresh background context bounded by timeout, so
// cancellation of the triggering request does not abort it. Errors are logged with op and
// never returned. wg may be nil; when set it tracks the goroutine for draining.
func RunAsync(wg *sync.WaitGroup, logger *zap.Logger, op string, timeout time.Duration, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if timeout <= 0 {
		timeout = BackgroundTimeout
	}
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil && logger != nil {
			logger.Warn("background step failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

// Wait blocks until wg drains or ctx is done. Returns ctx.Err() on timeout.
func Wait(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
