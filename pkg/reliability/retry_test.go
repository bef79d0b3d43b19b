package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

func fastStrategy(retries int) RetryStrategy {
	return RetryStrategy{
		MaxRetries: retries,
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func retryableErr() error {
	return bqerrors.New(bqerrors.ErrCodeRemoteUnavailable, "worker busy").WithRetryable(true)
}

func TestRetryStrategy_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := fastStrategy(3).Execute(context.Background(), func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryStrategy_RetriesRetryableErrors(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := fastStrategy(3).Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return retryableErr()
		}
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	// two backoffs of at least 0.75 * 5ms
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("elapsed = %v, expected backoff", elapsed)
	}
}

func TestRetryStrategy_NonRetryableFailsFast(t *testing.T) {
	attempts := 0
	want := bqerrors.New(bqerrors.ErrCodeToolExecution, "exit status 1")
	err := fastStrategy(3).Execute(context.Background(), func() error {
		attempts++
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("Execute() error = %v, want %v", err, want)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryStrategy_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	err := fastStrategy(2).Execute(context.Background(), func() error {
		attempts++
		return retryableErr()
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !bqerrors.IsCode(err, bqerrors.ErrCodeRemoteUnavailable) {
		t.Errorf("wrapped error lost its code: %v", err)
	}
}

func TestRetryStrategy_ContextCancelledDuringBackoff(t *testing.T) {
	s := RetryStrategy{MaxRetries: 5, BaseDelay: time.Second, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Execute(ctx, func() error {
			attempts++
			return retryableErr()
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Execute() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancel")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryStrategy_CustomClassifier(t *testing.T) {
	sentinel := errors.New("flaky")
	s := fastStrategy(1)
	s.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	attempts := 0
	err := s.Execute(context.Background(), func() error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("Execute() error = %v, want wrapped sentinel", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", bqerrors.Wrap(context.DeadlineExceeded, bqerrors.ErrCodeToolTimeout, "slow"), true},
		{"retryable structured", retryableErr(), true},
		{"structured", bqerrors.New(bqerrors.ErrCodePermissionDenied, "denied"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.want {
				t.Errorf("IsRetriable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
