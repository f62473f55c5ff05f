package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"axiomvault/vaulterr"
)

func TestRetryExecutorRetriesTransientErrors(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	executor := NewRetryExecutor(cfg)

	attempts := 0
	err := executor.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return vaulterr.Networkf("transient failure")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryExecutorDoesNotRetryLogicalErrors(t *testing.T) {
	executor := NewRetryExecutor(DefaultRetryConfig())

	attempts := 0
	err := executor.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return vaulterr.InvalidInputf("not retryable")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryExecutorGivesUpAfterMaxRetries(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	executor := NewRetryExecutor(cfg)

	attempts := 0
	err := executor.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return vaulterr.Networkf("always fails")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestDelayRespectsMax(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2.0, JitterOn: false}
	require.Equal(t, time.Second, cfg.Delay(0))
	require.Equal(t, 2*time.Second, cfg.Delay(1))
	require.Equal(t, 3*time.Second, cfg.Delay(5), "must clamp to max_delay")
}
