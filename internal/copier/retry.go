package copier

import (
	"context"
	"time"
)

// RetryVerifiedCopy bounds VerifiedCopy with a fixed retry budget. Success,
// Cancelled, FatalError and NoMetadata are terminal; only ErrorDuringCopy is
// retried, after waiting delay between attempts. The wait is abortable:
// cancellation during it surfaces Cancelled. Exhausting maxAttempts returns
// the last ErrorDuringCopy.
func (e *Engine) RetryVerifiedCopy(ctx context.Context, source, destination string, maxAttempts int, delay time.Duration) (Outcome, error) {
	return retry(ctx, maxAttempts, delay, func(attempt int) (Outcome, error) {
		outcome, err := e.VerifiedCopy(ctx, source, destination)
		if outcome == ErrorDuringCopy {
			e.logger.Warn("copy attempt failed",
				"source", source, "destination", destination,
				"attempt", attempt, "error", err)
		}
		return outcome, err
	})
}

// retry is the attempt loop, split out so tests can drive it with a counting
// function instead of real I/O failures.
func retry(ctx context.Context, maxAttempts int, delay time.Duration, fn func(attempt int) (Outcome, error)) (Outcome, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var outcome Outcome
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err = fn(attempt)
		if outcome != ErrorDuringCopy {
			return outcome, err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Cancelled, nil
		case <-time.After(delay):
		}
	}
	return outcome, err
}
