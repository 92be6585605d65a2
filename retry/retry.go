// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package retry runs operations against external services under an explicit
// backoff policy: bounded attempts, exponential delay with jitter, a timeout per
// attempt, and retries for transient failures only.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/poiesic/athena/core"
)

// ErrInvalidMaxAttempts is returned when MaxAttempts is <= 0.
var ErrInvalidMaxAttempts = fmt.Errorf("%w: max attempts must be greater than 0", core.ErrInvalidInput)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts. 0 means uncapped.
	MaxDelay time.Duration
	// Multiplier grows the delay after each failed attempt. Values below 1 are treated as 2.
	Multiplier float64
	// Jitter spreads each delay uniformly by +/- this fraction.
	Jitter float64
	// AttemptTimeout bounds a single attempt. 0 means only the caller's context applies.
	AttemptTimeout time.Duration
	// Retryable classifies errors. Defaults to core.IsRetryable.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for external calls unless configured otherwise.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
		AttemptTimeout: 30 * time.Second,
	}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.AttemptTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", core.ErrInvalidInput)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("%w: jitter must be between 0 and 1", core.ErrInvalidInput)
	}
	return nil
}

// Delay returns the nominal wait after the given failed attempt (1-based), before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p Policy) jittered(attempt int) time.Duration {
	delay := p.Delay(attempt)
	if p.Jitter == 0 || delay == 0 {
		return delay
	}
	spread := (rand.Float64()*2 - 1) * p.Jitter
	return time.Duration(float64(delay) * (1 + spread))
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return core.IsRetryable(err)
}

// Do runs op until it succeeds, fails permanently, or the policy is exhausted.
//
// Non-retryable errors are returned unchanged. Exhausting the attempts returns
// core.ErrPersistentProvider wrapping the last error. Cancellation of ctx returns
// ctx.Err() wrapping the last error seen.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		// Check context before attempting
		if err := ctx.Err(); err != nil {
			return zero, withLast(err, lastErr)
		}

		value, err := runAttempt(ctx, policy.AttemptTimeout, op)
		if err == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return value, nil
		}
		lastErr = err

		// The caller gave up, not the provider.
		if ctx.Err() != nil {
			return zero, withLast(ctx.Err(), lastErr)
		}
		if !policy.retryable(err) {
			return zero, err
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", policy.MaxAttempts, "error", err)

		// Don't sleep after the last attempt
		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(policy.jittered(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, withLast(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", core.ErrPersistentProvider, policy.MaxAttempts, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	value, err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// A per-attempt timeout is a transient provider failure.
		err = fmt.Errorf("%w: attempt timed out after %s: %w", core.ErrTransientProvider, timeout, err)
	}
	return value, err
}

func withLast(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %w)", ctxErr, lastErr)
}
