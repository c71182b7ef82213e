package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/anchorhome/anchor/pkg/models"
)

// ErrAttemptTimeout marks a single execution attempt that exceeded its
// per-attempt deadline.
var ErrAttemptTimeout = errors.New("model execution attempt timed out")

type attemptOutcome struct {
	result *models.ModelResult
	err    error
}

// runWithTimeout executes fn with a hard deadline. On timeout the attempt's
// context is cancelled and the attempt is abandoned; a result that arrives
// late is dropped on the floor (the channel is buffered so the goroutine
// does not leak).
func runWithTimeout(ctx context.Context, timeout time.Duration,
	fn func(ctx context.Context) (*models.ModelResult, error)) (*models.ModelResult, error) {

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptOutcome, 1)
	go func() {
		result, err := fn(attemptCtx)
		done <- attemptOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Caller cancelled, not a per-attempt timeout.
			return nil, ctx.Err()
		}
		return nil, ErrAttemptTimeout
	}
}
