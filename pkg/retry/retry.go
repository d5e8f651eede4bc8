package retry

import (
	"context"
	"errors"
	"time"
)

// Policy описывает стратегию повторов: сколько попыток, какая пауза
// между ними и какие ошибки вообще имеет смысл повторять.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int, err error) time.Duration
	Retryable   func(err error) bool
}

type Runner struct {
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRunner(policy Policy) *Runner {
	return &Runner{
		policy: policy,
		sleep:  sleepContext,
	}
}

// NewRunnerWithSleep подменяет функцию ожидания (для тестов без реальных пауз).
func NewRunnerWithSleep(policy Policy, sleep func(ctx context.Context, d time.Duration) error) *Runner {
	return &Runner{
		policy: policy,
		sleep:  sleep,
	}
}

func (r *Runner) Do(ctx context.Context, op func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}

		if IsPermanent(lastErr) {
			return lastErr
		}
		if r.policy.Retryable != nil && !r.policy.Retryable(lastErr) {
			return lastErr
		}

		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		var delay time.Duration
		if r.policy.Backoff != nil {
			delay = r.policy.Backoff(attempt, lastErr)
		}
		if delay > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return lastErr
}

// ExpBackoff возвращает base * 2^attempt независимо от ошибки.
func ExpBackoff(base time.Duration) func(attempt int, err error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		return base << uint(attempt)
	}
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую: Do вернёт её сразу,
// не тратя оставшиеся попытки.
func Permanent(err error) error {
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
