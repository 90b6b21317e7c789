package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local EventStore for development and tests. It
// enforces the same (source, webhook_id) claim as the database stores.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*InboundEvent
	claims map[string]string // claim key -> request id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*InboundEvent),
		claims: make(map[string]string),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, ev *InboundEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey(ev.Source, ev.WebhookID)
	claims := ev.Status == StatusProcessing || ev.Status == StatusSuccess
	if claims {
		if _, taken := s.claims[key]; taken {
			return ErrAlreadyClaimed
		}
		s.claims[key] = ev.RequestID
	}

	cp := *ev
	s.events[ev.RequestID] = &cp
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, requestID string, upd StatusUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[requestID]
	if !ok || !CanTransition(ev.Status, upd.Status) {
		return false, nil
	}

	processedAt := upd.ProcessedAt
	ms := upd.Duration.Milliseconds()
	ev.Status = upd.Status
	ev.ProcessedAt = &processedAt
	ev.ProcessingDurationMs = &ms
	if len(upd.Outcome) > 0 {
		ev.Outcome = upd.Outcome
	}
	ev.ErrorCode = upd.ErrorCode
	ev.ErrorMessage = upd.ErrorMessage

	if upd.Status != StatusSuccess {
		key := claimKey(ev.Source, ev.WebhookID)
		if s.claims[key] == requestID {
			delete(s.claims, key)
		}
	}
	if upd.Status != StatusFailed {
		ev.RawPayload = nil
	}
	return true, nil
}

func (s *MemoryStore) GetByRequestID(ctx context.Context, requestID string) (*InboundEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[requestID]
	if !ok {
		return nil, ErrEventNotFound.WithDetail("request_id", requestID)
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) HasSucceeded(ctx context.Context, source, webhookID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.Source == source && ev.WebhookID == webhookID && ev.Status == StatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) HasSucceededByHash(ctx context.Context, source, payloadHash string, since time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.Source == source && ev.PayloadHash == payloadHash && ev.Status == StatusSuccess &&
			ev.ProcessedAt != nil && !ev.ProcessedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*InboundEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*InboundEvent
	for _, ev := range s.events {
		if ev.Status == StatusProcessing && ev.ReceivedAt.Before(olderThan) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns a snapshot of every stored event, oldest first.
func (s *MemoryStore) All() []*InboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*InboundEvent, 0, len(s.events))
	for _, ev := range s.events {
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}
