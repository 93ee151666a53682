// Package retry implements the two backoff shapes used throughout
// PiWardrive: a short fixed-delay sequence for local disk faults, and a
// full-jitter exponential sequence for network faults.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// FixedDelays retries fn up to len(delays)+1 times total, sleeping
// delays[i] before attempt i+2. Used by the Store for transient disk
// errors (spec.md §4.1: 50/200/800ms, 3 retries).
func FixedDelays(ctx context.Context, delays []time.Duration, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= len(delays) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delays[attempt]):
		}
	}
}

// ExponentialConfig configures full-jitter exponential backoff: the delay
// before attempt n is a uniform random draw from [0, min(Base*2^n, Cap)].
type ExponentialConfig struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// Delay returns the full-jitter delay for the given zero-based failure
// count.
func (c ExponentialConfig) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := float64(c.Base) * float64(uint64(1)<<uint(min(failures, 62)))
	if d > float64(c.Cap) || d <= 0 {
		d = float64(c.Cap)
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * d)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Exponential retries fn up to cfg.MaxRetries times using full-jitter
// exponential backoff between attempts. shouldRetry classifies the error;
// when it returns false the error is returned immediately without
// further retries (permanent failures must not be retried).
func Exponential(ctx context.Context, cfg ExponentialConfig, shouldRetry func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Delay(attempt)):
		}
	}
}
