package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/athena/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = fmt.Errorf("%w: 429 too many requests", core.ErrTransientProvider)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: 10 * time.Millisecond, Multiplier: 2}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "should succeed on third attempt")
}

func TestDo_Exhausted(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		attempts++
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistentProvider)
	assert.ErrorIs(t, err, core.ErrTransientProvider, "last error stays in the chain")
	assert.False(t, core.IsRetryable(err), "exhausted errors are not retried again")
	assert.Equal(t, 3, attempts, "should attempt exactly MaxAttempts times")
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	invalid := fmt.Errorf("%w: empty prompt", core.ErrInvalidInput)
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		attempts++
		return invalid
	})
	assert.Equal(t, invalid, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_CustomClassifier(t *testing.T) {
	attempts := 0
	policy := fastPolicy(3)
	policy.Retryable = func(error) bool { return true }

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return errors.New("anything")
	})
	assert.ErrorIs(t, err, core.ErrPersistentProvider)
	assert.Equal(t, 3, attempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastPolicy(10), func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel after second attempt
		}
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "should return context.Canceled")
	assert.LessOrEqual(t, attempts, 2, "should stop when context is canceled")
}

func TestDo_AttemptTimeoutIsTransient(t *testing.T) {
	var attempts atomic.Int32
	policy := fastPolicy(3)
	policy.AttemptTimeout = 20 * time.Millisecond

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		n := attempts.Add(1)
		if n < 3 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDo_InvalidPolicy(t *testing.T) {
	for _, attempts := range []int{0, -1} {
		calls := 0
		err := Do(context.Background(), fastPolicy(attempts), func(ctx context.Context) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
		assert.Equal(t, 0, calls, "should not attempt with invalid MaxAttempts")
	}

	policy := fastPolicy(1)
	policy.Jitter = 2
	assert.Error(t, policy.Validate())
}

func TestDoValue(t *testing.T) {
	attempts := 0
	v, err := DoValue(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errTransient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(10), "capped at MaxDelay")

	p.Jitter = 0.5
	for i := 0; i < 50; i++ {
		d := p.jittered(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.AttemptTimeout)
}
