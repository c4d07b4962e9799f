package repository

import (
	"context"
	"errors"
	"fmt"
)

// Executor runs an action under a named circuit breaker.
type Executor interface {
	Execute(ctx context.Context, name string, action func() error) error
}

// Breaker guards a BlobStore with a circuit breaker. Version conflicts and
// missing documents are normal outcomes and do not count as failures.
type Breaker struct {
	next BlobStore
	cb   Executor
	name string
}

func NewBreaker(next BlobStore, cb Executor, name string) *Breaker {
	return &Breaker{next: next, cb: cb, name: name}
}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, Version, error) {
	var (
		data    []byte
		version Version
		opErr   error
	)
	err := b.cb.Execute(ctx, b.name, func() error {
		data, version, opErr = b.next.Get(ctx, key)
		return failure(opErr)
	})
	return data, version, settle(err, opErr)
}

func (b *Breaker) PutIfVersion(ctx context.Context, key string, data []byte, version Version) (Version, error) {
	var (
		next  Version
		opErr error
	)
	err := b.cb.Execute(ctx, b.name, func() error {
		next, opErr = b.next.PutIfVersion(ctx, key, data, version)
		return failure(opErr)
	})
	return next, settle(err, opErr)
}

// stateReporter is implemented by breakers that can report an open circuit
// without running an action.
type stateReporter interface {
	State(ctx context.Context, name string) (bool, error)
}

// Ping reports an open circuit as not ready. The backend ping itself bypasses
// the breaker so readiness probes never count towards tripping it.
func (b *Breaker) Ping(ctx context.Context) error {
	if s, ok := b.cb.(stateReporter); ok {
		open, err := s.State(ctx, b.name)
		if err == nil && open {
			return fmt.Errorf("%s: circuit open", b.name)
		}
	}
	if p, ok := b.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func failure(err error) error {
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// settle prefers the store's own error; the breaker error only surfaces when
// the action never ran (open circuit).
func settle(breakerErr, opErr error) error {
	if opErr != nil {
		return opErr
	}
	return breakerErr
}

var _ BlobStore = (*Breaker)(nil)
