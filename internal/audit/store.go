package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store is append-only. There is no update or delete.
type Store interface {
	Append(ctx context.Context, ev Event) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Event, error)
	ListByActor(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for _, ev := range s.events {
		if ev.BookingID == bookingID {
			result = append(result, ev)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].OccurredAt.Before(result[j].OccurredAt) })
	return result, nil
}

func (s *MemoryStore) ListByActor(_ context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Actor.UserID == userID {
			result = append(result, s.events[i])
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}
