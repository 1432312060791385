// Package async runs background tasks without letting a panic take the
// process down.
//
// Go starts a task and returns a channel closed when it finishes, so a
// shutdown step can cancel the task's context and wait for it:
//
//	ctx, cancel := context.WithCancel(ctx)
//	done := async.Go(ctx, logger, "metrics server", serve)
//	shutdown.Register("metrics", func(context.Context) error {
//		cancel()
//		<-done
//		return nil
//	})
package async
