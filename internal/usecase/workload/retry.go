package workload

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kailas-cloud/vecbench/internal/provider"
)

// RetryPolicy bounds how often a failed write is reattempted.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetry makes three attempts with jittered exponential backoff
// starting at 100ms and capped at 1s.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond, Max: time.Second}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy { return RetryPolicy{Attempts: 1} }

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.MaxInterval = p.Max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5
	eb.MaxElapsedTime = 0

	retries := 0
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx) //nolint:gosec // non-negative
}

// Do calls op until it succeeds, fails with a non-retryable kind, or the
// attempts are exhausted. It returns the number of retries made and the
// last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backoff(ctx))
	return max(attempts-1, 0), err
}

// retryable excludes requests the backend rejected as malformed.
func retryable(err error) bool {
	return provider.KindOf(err) != provider.KindInvalidArgument
}
