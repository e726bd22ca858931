package upstream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls bounded retry of idempotent calls. The zero value
// performs no retries. Creation calls are never retried through a policy;
// only read and status operations are.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int

	// NewBackOff produces a fresh backoff schedule per operation
	NewBackOff func() backoff.BackOff

	// Retryable decides whether an error is worth another attempt
	Retryable func(error) bool
}

// DefaultRetryPolicy retries temporary failures up to three attempts
// with exponential backoff between 2s and 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 10 * time.Second
			return b
		},
		Retryable: IsTemporary,
	}
}

// NoDelayPolicy retries immediately. Tests use it to avoid waiting.
func NoDelayPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Retryable:   IsTemporary,
	}
}

// Do runs op under the policy, returning the last error if all attempts fail
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts <= 1 || p.NewBackOff == nil {
		return op()
	}

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTemporary
	}

	wrapped := func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(p.NewBackOff(), uint64(p.MaxAttempts-1)),
		ctx,
	)
	return backoff.Retry(wrapped, b)
}
