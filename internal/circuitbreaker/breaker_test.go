package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/raakeshmj/licensegate/internal/reliability"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBreaker(t *testing.T, threshold int64, strategy reliability.FailureStrategy) (*CircuitBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, threshold, 10*time.Second, strategy), mr
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cb, mr := newBreaker(t, 2, reliability.FailClosed)
	boom := errors.New("upstream 502")

	assert.ErrorIs(t, cb.Execute(ctx, "store", func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Execute(ctx, "store", func() error { return boom }), boom)

	ran := false
	err := cb.Execute(ctx, "store", func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)

	open, err := cb.State(ctx, "store")
	require.NoError(t, err)
	assert.True(t, open)

	mr.FastForward(11 * time.Second)
	assert.NoError(t, cb.Execute(ctx, "store", func() error { return nil }))
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	cb, _ := newBreaker(t, 2, reliability.FailClosed)
	boom := errors.New("upstream 502")

	_ = cb.Execute(ctx, "store", func() error { return boom })
	require.NoError(t, cb.Execute(ctx, "store", func() error { return nil }))
	_ = cb.Execute(ctx, "store", func() error { return boom })

	open, err := cb.State(ctx, "store")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestCircuitBreaker_RedisDownStrategy(t *testing.T) {
	ctx := context.Background()

	cb, mr := newBreaker(t, 2, reliability.FailOpen)
	mr.Close()
	ran := false
	assert.NoError(t, cb.Execute(ctx, "store", func() error { ran = true; return nil }))
	assert.True(t, ran, "fail open must still run the action")

	cb, mr = newBreaker(t, 2, reliability.FailClosed)
	mr.Close()
	ran = false
	assert.Error(t, cb.Execute(ctx, "store", func() error { ran = true; return nil }))
	assert.False(t, ran)
}
