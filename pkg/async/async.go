// Package async wraps background task execution with panic recovery and
// timeout enforcement. Scheduled jobs run through Run so a misbehaving job
// cannot take the daemon down or wedge the scheduler.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/leadstore/pkg/observability"
)

// Run executes fn synchronously under a timeout, converting panics into
// errors. The caller's goroutine is the execution context; cron already
// invokes each job on its own goroutine.
func Run(parentCtx context.Context, timeout time.Duration, name string, log *observability.Logger, fn func(context.Context) error) (err error) {
	if log == nil {
		log = observability.Nop()
	}
	ctx := parentCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
			log.WithField("job", name).WithField("stack", string(debug.Stack())).
				Errorf("job panicked: %v", r)
		}
	}()

	if err := fn(ctx); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return nil
}

// Go runs fn on a new goroutine through Run. Errors are logged, not returned;
// fire-and-forget work has no caller left to hand them to.
func Go(parentCtx context.Context, timeout time.Duration, name string, log *observability.Logger, fn func(context.Context) error) {
	if log == nil {
		log = observability.Nop()
	}
	go func() {
		if err := Run(parentCtx, timeout, name, log, fn); err != nil {
			log.WithField("job", name).WithError(err).Warn("background job failed")
		}
	}()
}
