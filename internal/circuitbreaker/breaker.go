package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/licensegate/internal/reliability"
	"github.com/redis/go-redis/v9"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Redis Keys:
// cb:{name}:open -> present while the circuit is open (expires after timeout)
// cb:{name}:failures -> consecutive failure count

// CircuitBreaker is shared between instances through redis, so one replica
// tripping the breaker protects the upstream for all of them.
type CircuitBreaker struct {
	client           *redis.Client
	failureThreshold int64
	timeout          time.Duration
	strategy         reliability.FailureStrategy
}

func New(client *redis.Client, failureThreshold int64, timeout time.Duration, strategy reliability.FailureStrategy) *CircuitBreaker {
	return &CircuitBreaker{
		client:           client,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		strategy:         strategy,
	}
}

func openKey(name string) string    { return "cb:" + name + ":open" }
func failureKey(name string) string { return "cb:" + name + ":failures" }

// Execute runs action unless the circuit for name is open. If redis itself is
// unreachable the configured strategy decides whether the action still runs.
func (cb *CircuitBreaker) Execute(ctx context.Context, name string, action func() error) error {
	open, err := cb.client.Exists(ctx, openKey(name)).Result()
	if err != nil {
		if !reliability.ShouldAllow(cb.strategy, err) {
			return err
		}
		return action()
	}
	if open > 0 {
		return ErrCircuitOpen
	}

	if opErr := action(); opErr != nil {
		failures, err := cb.client.Incr(ctx, failureKey(name)).Result()
		if err == nil && failures >= cb.failureThreshold {
			// Trip Breaker
			cb.client.Set(ctx, openKey(name), "1", cb.timeout)
			cb.client.Del(ctx, failureKey(name))
		}
		return opErr
	}

	// Consecutive failures only.
	cb.client.Del(ctx, failureKey(name))
	return nil
}

// State reports whether the circuit for name is currently open.
func (cb *CircuitBreaker) State(ctx context.Context, name string) (bool, error) {
	n, err := cb.client.Exists(ctx, openKey(name)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
