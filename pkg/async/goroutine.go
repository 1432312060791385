package async

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Go runs fn in a goroutine with panic recovery. Errors and panics are
// logged under taskName rather than returned. The returned channel is
// closed once fn has finished.
//
// Example:
//
//	done := async.Go(ctx, logger, "snapshot watcher", func(ctx context.Context) error {
//	    return source.Watch(ctx, onReload)
//	})
//	cancel()
//	<-done
func Go(ctx context.Context, logger *observability.Logger, taskName string, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NopLogger()
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := run(ctx, fn); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()

	return done
}

// run converts a panic in fn into an error
func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
