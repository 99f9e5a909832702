// Package retry retries request/patch-style operations with exponential
// backoff. Its one caller in this agent is the Kubernetes isolation
// executor's node-patch read-modify-write loop (see pkg/isolation's
// nodePatchRetryConfig), which retries a Get-then-Patch sequence that
// the apiserver can reject with a resourceVersion conflict if something
// else updated the node in between.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/gdnd-project/gdnd/pkg/clock"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the
	// initial attempt). A value of 0 means retry indefinitely (until
	// context is cancelled).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries, since each retry
	// multiplies the previous delay by Multiplier and would otherwise
	// grow unbounded.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases after each retry.
	Multiplier float64

	// Jitter adds randomness to delays so that, e.g., every pod in a
	// DaemonSet that restarts at the same moment doesn't retry its node
	// patch in lockstep. 0.0 means no jitter, 0.1 means +/- 10% of the delay.
	Jitter float64

	// RetryableFunc determines if an error should trigger a retry. If
	// nil, all non-nil errors are considered retryable. The isolation
	// executor passes Combine(apierrors.IsConflict, ...) here so only
	// apiserver errors it knows resolve themselves get retried.
	RetryableFunc func(error) bool

	// Clock is the clock used for the wait between attempts. If nil,
	// uses clock.Real().
	Clock clock.Clock
}

// Do executes fn, retrying on error per cfg. It returns the last error
// if every attempt fails, or the context's error once it's canceled.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return errors.Join(ctx.Err(), lastErr)
			}
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if cfg.RetryableFunc != nil && !cfg.RetryableFunc(err) {
			return err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			break
		}

		actualDelay := delay
		if cfg.Jitter > 0 {
			jitterRange := float64(delay) * cfg.Jitter
			actualDelay = delay + time.Duration(rand.Float64()*2*jitterRange-jitterRange)
		}

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-clk.After(actualDelay):
		}

		delay = time.Duration(math.Min(float64(delay)*cfg.Multiplier, float64(cfg.MaxDelay)))
	}

	return lastErr
}

// Combine returns a RetryableFunc that retries when any of funcs does.
// The isolation executor uses this to OR together the apierrors checks
// that indicate a transient apiserver failure worth retrying.
func Combine(funcs ...func(error) bool) func(error) bool {
	return func(err error) bool {
		for _, f := range funcs {
			if f(err) {
				return true
			}
		}
		return false
	}
}
