package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"hookgate/internal/config"
	"hookgate/pkg/circuitbreaker"
	apperrors "hookgate/pkg/errors"
)

// CircuitBreakerStore fails fast while the underlying store is unhealthy.
// Claim conflicts and missing rows do not count as failures.
type CircuitBreakerStore struct {
	store EventStore
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store EventStore, name string, cfg config.CircuitBreakerConfig) EventStore {
	if !cfg.Enabled {
		return store
	}

	cbConfig := circuitbreaker.Tuned(name, cfg.MaxRequests, cfg.Interval, cfg.Timeout, cfg.FailureRatio, cfg.MinRequests)
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil ||
			errors.Is(err, ErrAlreadyClaimed) ||
			apperrors.IsNotFound(err) ||
			errors.Is(err, context.Canceled)
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) do(ctx context.Context, fn func() error) error {
	err := s.cb.Do(ctx, fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.ErrDBConnection.WithCause(fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err))
	}
	return err
}

func (s *CircuitBreakerStore) Insert(ctx context.Context, ev *InboundEvent) error {
	return s.do(ctx, func() error { return s.store.Insert(ctx, ev) })
}

func (s *CircuitBreakerStore) UpdateStatus(ctx context.Context, requestID string, upd StatusUpdate) (bool, error) {
	var updated bool
	err := s.do(ctx, func() error {
		var err error
		updated, err = s.store.UpdateStatus(ctx, requestID, upd)
		return err
	})
	return updated, err
}

func (s *CircuitBreakerStore) GetByRequestID(ctx context.Context, requestID string) (*InboundEvent, error) {
	var ev *InboundEvent
	err := s.do(ctx, func() error {
		var err error
		ev, err = s.store.GetByRequestID(ctx, requestID)
		return err
	})
	return ev, err
}

func (s *CircuitBreakerStore) HasSucceeded(ctx context.Context, source, webhookID string) (bool, error) {
	var found bool
	err := s.do(ctx, func() error {
		var err error
		found, err = s.store.HasSucceeded(ctx, source, webhookID)
		return err
	})
	return found, err
}

func (s *CircuitBreakerStore) HasSucceededByHash(ctx context.Context, source, payloadHash string, since time.Time) (bool, error) {
	var found bool
	err := s.do(ctx, func() error {
		var err error
		found, err = s.store.HasSucceededByHash(ctx, source, payloadHash, since)
		return err
	})
	return found, err
}

func (s *CircuitBreakerStore) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*InboundEvent, error) {
	var events []*InboundEvent
	err := s.do(ctx, func() error {
		var err error
		events, err = s.store.ListStuck(ctx, olderThan, limit)
		return err
	})
	return events, err
}

func (s *CircuitBreakerStore) State() string {
	return s.cb.State().String()
}
