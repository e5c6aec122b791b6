package engine

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantlab/backtest-hub/src/models"
)

func TestRetryPolicyNext(t *testing.T) {
	policy := DefaultRetryPolicy

	require.Equal(t, 3*time.Second, policy.Next(2*time.Second))
	require.Equal(t, 4500*time.Millisecond, policy.Next(3*time.Second))
	require.Equal(t, 6750*time.Millisecond, policy.Next(4500*time.Millisecond))
	require.Equal(t, 10*time.Second, policy.Next(6750*time.Millisecond))
	require.Equal(t, 10*time.Second, policy.Next(10*time.Second))
}

func TestRetryable(t *testing.T) {
	require.False(t, retryable(nil))
	require.False(t, retryable(context.Canceled))
	require.False(t, retryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))

	require.False(t, retryable(models.NewAPIError(http.StatusBadRequest, "invalid request")))
	require.False(t, retryable(models.NewAPIError(http.StatusNotFound, "no such backtest")))

	require.True(t, retryable(models.NewAPIError(http.StatusBadGateway, "upstream down")))
	require.True(t, retryable(fmt.Errorf("connection refused")))
}

func TestWithRetry(t *testing.T) {
	fast := RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
		MaxRetries:      3,
	}

	t.Run("transient errors retry until success", func(t *testing.T) {
		attempts := 0
		err := withRetry(context.Background(), fast, "test", func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("connection reset")
			}

			return nil
		})

		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("client errors escalate immediately", func(t *testing.T) {
		attempts := 0
		err := withRetry(context.Background(), fast, "test", func(ctx context.Context) error {
			attempts++
			return models.NewAPIError(http.StatusNotFound, "no such backtest")
		})

		require.Error(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("gives up after the retry ceiling", func(t *testing.T) {
		attempts := 0
		err := withRetry(context.Background(), fast, "test", func(ctx context.Context) error {
			attempts++
			return fmt.Errorf("connection refused")
		})

		require.Error(t, err)
		require.Equal(t, fast.MaxRetries+1, attempts)
	})
}
