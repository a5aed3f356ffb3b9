package retry

import (
	"context"
	"time"
)

// ExponentialBackoff returns delay based on attempt number.
// The delay doubles with each attempt: base * 2^attempt
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	return base * (1 << attempt)
}

// Policy bounds how often an operation is retried after its first attempt.
type Policy struct {
	Retries int
	Base    time.Duration
	// Retryable reports whether err is worth another attempt. Nil retries every error.
	Retryable func(error) bool
}

// TotalBackoff is the longest time Do can spend sleeping between attempts
// when every attempt fails.
func (p Policy) TotalBackoff() time.Duration {
	var total time.Duration
	for attempt := 0; attempt < p.Retries; attempt++ {
		total += ExponentialBackoff(attempt, p.Base)
	}
	return total
}

// Do runs fn until it succeeds, the retry budget is spent, the error is not
// retryable, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt == p.Retries || ctx.Err() != nil {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(ExponentialBackoff(attempt, p.Base)):
		}
	}
	return err
}
