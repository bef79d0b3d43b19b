package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/reliability"
)

// Middleware wraps a Processor with additional behavior.
type Middleware func(next Processor) Processor

// Chain composes middlewares around p (first middleware is outermost).
func Chain(p Processor, middlewares ...Middleware) Processor {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		p = middlewares[i](p)
	}
	return p
}

// WithTimeout bounds each call with a deadline. A processor that overruns it
// fails with a retryable TOOL_TIMEOUT error. Place it inside WithRetry so every
// attempt gets a fresh deadline.
func WithTimeout(d time.Duration) Middleware {
	return func(next Processor) Processor {
		if d <= 0 {
			return next
		}
		return ProcessorFunc(func(ctx context.Context, config any, key Key, item any) (any, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			result, err := next.Process(timeoutCtx, config, key, item)
			if err != nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, bqerrors.Wrap(err, bqerrors.ErrCodeToolTimeout, fmt.Sprintf("item timed out after %v", d)).
					WithContext("key", string(key)).
					WithRetryable(true)
			}
			return result, err
		})
	}
}

// WithRateLimit waits on limiter before each call.
func WithRateLimit(limiter *rate.Limiter) Middleware {
	return func(next Processor) Processor {
		if limiter == nil {
			return next
		}
		return ProcessorFunc(func(ctx context.Context, config any, key Key, item any) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
			return next.Process(ctx, config, key, item)
		})
	}
}

// WithRetry re-runs failed calls according to strategy.
func WithRetry(strategy reliability.Strategy) Middleware {
	return func(next Processor) Processor {
		if strategy == nil {
			return next
		}
		return ProcessorFunc(func(ctx context.Context, config any, key Key, item any) (any, error) {
			var result any
			err := strategy.Execute(ctx, func() error {
				var err error
				result, err = next.Process(ctx, config, key, item)
				return err
			})
			if err != nil {
				return nil, err
			}
			return result, nil
		})
	}
}

// WithBreaker short-circuits calls while breaker is open. Rejected calls fail
// with a retryable REMOTE_UNAVAILABLE error.
func WithBreaker(breaker *reliability.CircuitBreaker) Middleware {
	return func(next Processor) Processor {
		if breaker == nil {
			return next
		}
		return ProcessorFunc(func(ctx context.Context, config any, key Key, item any) (any, error) {
			var result any
			err := breaker.Execute(func() error {
				var err error
				result, err = next.Process(ctx, config, key, item)
				return err
			})
			if errors.Is(err, reliability.ErrCircuitOpen) {
				return nil, bqerrors.Wrap(err, bqerrors.ErrCodeRemoteUnavailable, "processor unavailable").
					WithContext("key", string(key)).
					WithRetryable(true)
			}
			if err != nil {
				return nil, err
			}
			return result, nil
		})
	}
}
