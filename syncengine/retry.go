package syncengine

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"axiomvault/vaulterr"
)

// RetryConfig mirrors the defaults: exponential backoff with jitter.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterOn     bool
}

// DefaultRetryConfig returns the standard backoff schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterOn:     true,
	}
}

// Delay computes delay(attempt) = min(max_delay, initial_delay *
// multiplier^attempt) * jitter_factor, jitter_factor uniform in [0.75, 1.25]
// when enabled.
func (c RetryConfig) Delay(attempt int) time.Duration {
	raw := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if raw > float64(c.MaxDelay) {
		raw = float64(c.MaxDelay)
	}
	factor := 1.0
	if c.JitterOn {
		factor = 0.75 + 0.5*randomUnitFloat()
	}
	return time.Duration(raw * factor)
}

func randomUnitFloat() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / float64(1<<53)
}

// RetryExecutor runs an operation under RetryConfig, retrying only
// transient errors (vaulterr.Retryable): logical errors (NotFound,
// InvalidInput, NotPermitted, AlreadyExists, Conflict, Crypto) are fatal
// and returned immediately without consuming a retry.
type RetryExecutor struct {
	Config RetryConfig
}

func NewRetryExecutor(cfg RetryConfig) *RetryExecutor {
	return &RetryExecutor{Config: cfg}
}

// Run executes fn, retrying on transient failure up to MaxRetries times.
func (r *RetryExecutor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.Config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return vaulterr.NetworkWrap(err, "retry executor: context cancelled")
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !vaulterr.Retryable(err) {
			return err
		}
		lastErr = err
		if attempt == r.Config.MaxRetries {
			break
		}
		delay := r.Config.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return vaulterr.NetworkWrap(ctx.Err(), "retry executor: context cancelled during backoff")
		case <-timer.C:
		}
	}
	return lastErr
}
