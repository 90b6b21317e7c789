package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "hookgate/pkg/errors"
)

// Policy bounds an exponential retry loop. MaxAttempts counts the first
// call, so 3 means one call and two retries.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// PublishPolicy is used for broker writes on the request path.
func PublishPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
	}
}

// ConnectPolicy is used while dialing backing stores at startup.
func ConnectPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  30 * time.Second,
	}
}

// Notify is called before each retry with the attempt that just failed.
type Notify func(attempt int, err error, nextDelay time.Duration)

// Permanent marks err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, the policy is exhausted, ctx is done, or fn
// returns an error that reports itself as not retryable.
func Do(ctx context.Context, policy Policy, fn func() error, notify Notify) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.Multiplier = policy.Multiplier
	exp.MaxElapsedTime = policy.MaxElapsedTime

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(policy.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}

		var re apperrors.RetryableError
		if errors.As(err, &re) && !re.IsRetryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, next time.Duration) {
			notify(attempt, err, next)
		}
	}

	return backoff.RetryNotify(operation, b, onRetry)
}
