package deadletter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "hookgate/pkg/errors"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu          sync.Mutex
	events      map[string]*Event
	failInserts error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

func (s *MemoryStore) Insert(ctx context.Context, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failInserts != nil {
		return s.failInserts
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	cp := *ev
	cp.ErrorMessage = apperrors.Truncate(cp.ErrorMessage)
	s.events[ev.ID] = &cp
	return nil
}

// FailInserts makes every following Insert return err. Pass nil to reset.
func (s *MemoryStore) FailInserts(err error) {
	s.mu.Lock()
	s.failInserts = err
	s.mu.Unlock()
}

func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Event
	for _, ev := range s.events {
		if ev.ResolvedAt != nil || ev.NextRetryAt == nil || ev.NextRetryAt.After(now) {
			continue
		}
		if ev.LeasedUntil != nil && !ev.LeasedUntil.Before(now) {
			continue
		}
		due = append(due, ev)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]*Event, 0, len(due))
	for _, ev := range due {
		ev.LeasedUntil = &until
		ev.UpdatedAt = now
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) RecordRetryFailure(ctx context.Context, id string, f RetryFailure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok || ev.ResolvedAt != nil {
		return ErrEventNotFound.WithDetail("id", id)
	}
	ev.RetryCount++
	ev.NextRetryAt = f.NextRetryAt
	ev.ErrorCode = f.Info.Code
	ev.ErrorMessage = apperrors.Truncate(f.Info.Message)
	ev.ErrorStack = f.Stack
	ev.Retryable = f.Info.Retryable
	ev.LeasedUntil = nil
	ev.UpdatedAt = f.At
	return nil
}

func (s *MemoryStore) MarkResolved(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok || ev.ResolvedAt != nil {
		return ErrEventNotFound.WithDetail("id", id)
	}
	ev.ResolvedAt = &at
	ev.NextRetryAt = nil
	ev.LeasedUntil = nil
	ev.UpdatedAt = at
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound.WithDetail("id", id)
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, ev := range s.events {
		if filter.Source != "" && ev.Source != filter.Source {
			continue
		}
		switch filter.State {
		case StatePending:
			if ev.ResolvedAt != nil || ev.NextRetryAt == nil {
				continue
			}
		case StateTerminal:
			if !ev.IsTerminal() {
				continue
			}
		case StateResolved:
			if ev.ResolvedAt == nil {
				continue
			}
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Requeue(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return ErrEventNotFound.WithDetail("id", id)
	}
	if !ev.IsTerminal() {
		return ErrNotTerminal.WithDetail("id", id)
	}
	ev.NextRetryAt = &at
	ev.UpdatedAt = at
	return nil
}

// All returns a snapshot of every stored event, oldest first.
func (s *MemoryStore) All() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Event, 0, len(s.events))
	for _, ev := range s.events {
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
