package runner

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/me/flowserve/internal/orchestrator"
)

// RetryConfig controls how transient service errors are retried.
type RetryConfig struct {
	// Attempts caps tries per operation; 0 retries until the context ends.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Initial: 200 * time.Millisecond, Max: 10 * time.Second}
}

// delay returns a full-jitter exponential delay for retry attempt n (1-indexed).
func (c RetryConfig) delay(attempt int) time.Duration {
	base := float64(c.Initial) * math.Pow(2, float64(attempt-1))
	if c.Max > 0 && base > float64(c.Max) {
		base = float64(c.Max)
	}
	return time.Duration(rand.Float64() * base)
}

// retry calls fn until it succeeds, fails with a non-transient error, runs
// out of attempts, or ctx ends or stop closes. It returns fn's last error.
func retry(ctx context.Context, cfg RetryConfig, stop <-chan struct{}, logger *slog.Logger, op string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !orchestrator.IsTransient(err) {
			return err
		}
		if cfg.Attempts > 0 && attempt >= cfg.Attempts {
			return err
		}
		d := cfg.delay(attempt)
		logger.Warn("transient error, retrying", "op", op, "attempt", attempt, "delay", d, "error", err)

		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return err
		case <-stop:
			t.Stop()
			return err
		}
	}
}
