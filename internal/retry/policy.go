// Package retry runs operations under an explicit, bounded retry policy.
//
// One attempt moves Idle → Attempting, then ends in Success, PermanentFailure, or
// TransientFailure. A transient failure waits the policy delay and attempts again until
// MaxAttempts is spent. The attempt loop is fortify's; Policy only describes it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	fortifyretry "github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"

	"github.com/MarkoPoloResearchLab/flowcheck/internal/failures"
)

// fortify replaces a zero InitialDelay with its own default.
const minimumDelay = time.Nanosecond

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Operation is one attempt of a retried unit of work.
type Operation[T any] func(ctx context.Context) (T, error)

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts counts every attempt including the first. Values below one mean one.
	MaxAttempts int
	// Delay separates attempts.
	Delay time.Duration
	// Linear grows the wait by Delay after each failed attempt. False keeps delays fixed.
	Linear bool
	// PerAttemptTimeout bounds a single attempt. Zero leaves attempts unbounded.
	PerAttemptTimeout time.Duration
	// Classifier defaults to failures.IsTransient.
	Classifier Classifier
	// OnRetry observes each transient failure that is followed by another attempt.
	OnRetry func(attempt int, err error)
}

// ExhaustedError is returned after MaxAttempts consecutive transient failures.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (exhaustedError *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted: %v", exhaustedError.Attempts, exhaustedError.Last)
}

func (exhaustedError *ExhaustedError) Unwrap() error {
	return exhaustedError.Last
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(maxAttempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, Delay: delay}
}

// Attempts returns the effective attempt bound.
func (policy Policy) Attempts() int {
	if policy.MaxAttempts < 1 {
		return 1
	}
	return policy.MaxAttempts
}

// DelayBefore returns the wait that precedes the given attempt (attempt numbers start at 1).
func (policy Policy) DelayBefore(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	if policy.Linear {
		return policy.Delay * time.Duration(attempt-1)
	}
	return policy.Delay
}

func (policy Policy) isTransient(err error) bool {
	if policy.Classifier != nil {
		return policy.Classifier(err)
	}
	return failures.IsTransient(err)
}

func (policy Policy) fortifyConfig() fortifyretry.Config {
	delay := policy.Delay
	if delay <= 0 {
		delay = minimumDelay
	}
	backoff := fortifyretry.BackoffConstant
	if policy.Linear {
		backoff = fortifyretry.BackoffLinear
	}
	configuration := fortifyretry.Config{
		MaxAttempts:   policy.Attempts(),
		InitialDelay:  delay,
		BackoffPolicy: backoff,
		IsRetryable:   policy.isTransient,
	}
	if policy.OnRetry != nil {
		// fortify numbers the upcoming attempt; OnRetry receives the failed one.
		configuration.OnRetry = func(nextAttempt int, err error) {
			policy.OnRetry(nextAttempt-1, err)
		}
	}
	return configuration
}

// Do runs operation under policy and returns its first successful result.
// Permanent failures return unchanged and immediately.
func Do[T any](ctx context.Context, policy Policy, operation Operation[T]) (T, error) {
	var zero T
	var lastErr error
	attempts := 0

	attempt := operation
	if policy.PerAttemptTimeout > 0 {
		bounded := timeout.New[T](timeout.Config{DefaultTimeout: policy.PerAttemptTimeout})
		attempt = func(attemptContext context.Context) (T, error) {
			var operationErr error
			result, err := bounded.Execute(attemptContext, policy.PerAttemptTimeout, func(boundedContext context.Context) (T, error) {
				operationResult, err := operation(boundedContext)
				operationErr = err
				return operationResult, err
			})
			// Execute reports a bare context error; the operation's own error keeps its kind.
			if err != nil && operationErr != nil {
				return zero, operationErr
			}
			return result, err
		}
	}

	result, err := fortifyretry.New[T](policy.fortifyConfig()).Do(ctx, func(attemptContext context.Context) (T, error) {
		attempts++
		attemptResult, attemptErr := attempt(attemptContext)
		lastErr = attemptErr
		return attemptResult, attemptErr
	})
	if err == nil {
		return result, nil
	}
	if lastErr == nil {
		return zero, err
	}
	if errors.Is(err, lastErr) && !policy.isTransient(lastErr) {
		return zero, lastErr
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, policy Policy, operation func(ctx context.Context) error) error {
	_, err := Do(ctx, policy, func(attemptContext context.Context) (struct{}, error) {
		return struct{}{}, operation(attemptContext)
	})
	return err
}
