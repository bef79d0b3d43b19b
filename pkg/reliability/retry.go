package reliability

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

func cryptoRandFloat64() float64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0.5
	}
	n := binary.BigEndian.Uint64(b[:]) >> 11 // 53 bits
	return float64(n) / float64(uint64(1)<<53)
}

// Strategy runs fn under some retry policy.
type Strategy interface {
	Execute(ctx context.Context, fn func() error) error
}

// RetryStrategy implements exponential backoff with jitter. Only errors
// classified as retryable are retried; everything else fails fast.
type RetryStrategy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry (typically 2.0).
	Multiplier float64

	// Retryable overrides the default classification.
	Retryable func(error) bool
}

// DefaultRetryStrategy retries three times starting at 200ms.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// Execute runs fn until it succeeds, returns a non-retryable error, the
// retries are exhausted, or ctx is done.
func (s RetryStrategy) Execute(ctx context.Context, fn func() error) error {
	retryable := s.Retryable
	if retryable == nil {
		retryable = IsRetriable
	}
	multiplier := s.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var lastErr error
	delay := s.BaseDelay

	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			// ±25% jitter
			jittered := time.Duration(float64(delay) * (0.75 + cryptoRandFloat64()*0.5))
			timer := time.NewTimer(jittered)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}

			delay = time.Duration(float64(delay) * multiplier)
			if s.MaxDelay > 0 && delay > s.MaxDelay {
				delay = s.MaxDelay
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		lastErr = err
	}

	if s.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", s.MaxRetries, lastErr)
}

// IsRetriable is the default classification: structured errors marked
// retryable and per-attempt deadlines are retried; cancellation never is.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return bqerrors.IsRetryable(err)
}
