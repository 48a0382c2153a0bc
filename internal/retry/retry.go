// Package retry re-executes operations that fail with a transient error kind.
package retry

import "time"

// Do invokes op until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. Attempts is the maximum number of invocations
// of op whose error is classified retryable; the delay between attempts is a
// fixed duration, since the retried condition is cloud-side state settling
// rather than contention. A non-retryable error returns immediately without
// consuming an attempt, and the last retryable error is returned once the
// budget runs out.
//
// Cancellation is the operation's concern: an op that observes a cancelled
// context should return nil so the caller can fall through without waiting
// out the remaining budget.
func Do(op func() error, attempts int, delay time.Duration, retryable func(error) bool) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		if attempt < attempts-1 {
			time.Sleep(delay)
		}
	}
	return lastErr
}
