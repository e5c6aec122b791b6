package engine

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantlab/backtest-hub/src/models"
)

// RetryPolicy is the single backoff policy shared by the status poller and
// the result hydrator. The observed front end tuned these per call site; one
// policy is used everywhere here on purpose.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      int
}

var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 2 * time.Second,
	MaxInterval:     10 * time.Second,
	Multiplier:      1.5,
	MaxRetries:      3,
}

// Next returns the backoff interval that follows current, capped at
// MaxInterval. The sequence is monotonically non-decreasing.
func (p RetryPolicy) Next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	if next > p.MaxInterval {
		return p.MaxInterval
	}

	return next
}

// retryable reports whether err is a transport error worth retrying.
// Engine-reported failures (4xx) are terminal and propagate immediately.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	return true
}

// withRetry runs fn with bounded retry-with-backoff. Server-reported
// failures escalate on first occurrence; transport errors retry up to
// MaxRetries before the last error is surfaced.
func withRetry(ctx context.Context, policy RetryPolicy, name string, fn func(ctx context.Context) error) error {
	interval := policy.InitialInterval

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if !retryable(err) || attempt >= policy.MaxRetries {
			return err
		}

		log.Warnf("%s: attempt %d failed, retrying in %v: %v", name, attempt+1, interval, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = policy.Next(interval)
	}
}
