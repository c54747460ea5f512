package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProviderDown = errors.New("provider down")

func newTestBreaker(t *testing.T, timeout time.Duration) *CircuitBreaker {
	t.Helper()

	return New("test-provider", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          timeout,
	}, nil)
}

func failingCall(ctx context.Context) error { return errProviderDown }

func succeedingCall(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := newTestBreaker(t, time.Minute)
	ctx := context.Background()

	for range 3 {
		err := cb.Call(ctx, failingCall)
		require.ErrorIs(t, err, errProviderDown)
	}

	assert.Equal(t, StateOpen, cb.State())

	stats := cb.Stats()
	assert.Equal(t, 3, stats.Failures)
	assert.Equal(t, int64(3), stats.TotalFailures)
	require.NotNil(t, stats.LastFailureTime)
}

func TestCircuitBreaker_FailsFastWhileOpen(t *testing.T) {
	cb := newTestBreaker(t, time.Minute)
	ctx := context.Background()

	for range 3 {
		_ = cb.Call(ctx, failingCall)
	}

	invoked := false
	err := cb.Call(ctx, func(ctx context.Context) error {
		invoked = true

		return nil
	})

	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked, "wrapped function must not run while the circuit is open")
	assert.Positive(t, cb.Stats().TotalRejected)
}

func TestCircuitBreaker_HalfOpenAfterTimeoutThenCloses(t *testing.T) {
	cb := newTestBreaker(t, 10*time.Millisecond)
	ctx := context.Background()

	for range 3 {
		_ = cb.Call(ctx, failingCall)
	}

	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Call(ctx, succeedingCall))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Call(ctx, succeedingCall))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	cb := newTestBreaker(t, 10*time.Millisecond)
	ctx := context.Background()

	for range 3 {
		_ = cb.Call(ctx, failingCall)
	}

	time.Sleep(20 * time.Millisecond)

	err := cb.Call(ctx, failingCall)
	require.ErrorIs(t, err, errProviderDown)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(t, time.Minute)
	ctx := context.Background()

	_ = cb.Call(ctx, failingCall)
	_ = cb.Call(ctx, failingCall)
	require.NoError(t, cb.Call(ctx, succeedingCall))

	_ = cb.Call(ctx, failingCall)
	_ = cb.Call(ctx, failingCall)
	assert.Equal(t, StateClosed, cb.State(), "failure count should reset after a success")
}

func TestCircuitBreaker_ContextCancellationIsNotAFailure(t *testing.T) {
	cb := newTestBreaker(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range 5 {
		_ = cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	cb := New("filtered", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		IsFailure: func(err error) bool {
			return errors.Is(err, errProviderDown)
		},
	}, nil)

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State(), "non-matching errors must not trip the breaker")

	_ = cb.Call(context.Background(), failingCall)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(t, time.Minute)

	for range 3 {
		_ = cb.Call(context.Background(), failingCall)
	}

	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.Failures)
	assert.Nil(t, stats.LastFailureTime)
}

func TestRegistry_GetOrCreateReturnsSameInstance(t *testing.T) {
	registry := NewRegistry(DefaultConfig(), nil)

	first := registry.GetOrCreate("openai")
	second := registry.GetOrCreate("openai")
	other := registry.GetOrCreate("anthropic")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)

	stats := registry.Stats()
	assert.Len(t, stats, 2)
	assert.Equal(t, StateClosed, stats["openai"].State)
}

func TestRegistry_ResetAll(t *testing.T) {
	registry := NewRegistry(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}, nil)

	cb := registry.GetOrCreate("openai")
	_ = cb.Call(context.Background(), failingCall)
	require.Equal(t, StateOpen, cb.State())

	registry.ResetAll()
	assert.Equal(t, StateClosed, cb.State())
}
