// Package retry re-runs chain operations that failed with a transient
// network error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/metrics"
	"go.uber.org/zap"
)

type Policy struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxElapsed     time.Duration

	Metrics *metrics.Metrics
	Log     *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxElapsed:     10 * time.Second,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. Only apperr.ErrNetwork is retried.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		exp.InitialInterval = p.InitialBackoff
	}
	exp.MaxElapsedTime = p.MaxElapsed

	var b backoff.BackOff = exp
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn(ctx)
		if err == nil || apperr.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		p.Metrics.Retry(op)
		if p.Log != nil {
			p.Log.Warn("retrying after network error",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	})
}
