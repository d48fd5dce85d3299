package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

// MemoryStore keeps reservations in process. One mutex guards the whole map,
// which makes Insert and Move linearizable the same way the exclusion
// constraint does for PgStore.
type MemoryStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Reservation)}
}

func (s *MemoryStore) expireOverlappingLocked(providerID, skipID uuid.UUID, start, end, now time.Time) {
	for _, r := range s.items {
		if r.ProviderID != providerID || r.ID == skipID || r.Status != StatusHeld {
			continue
		}
		if !now.Before(r.ExpiresAt) && r.Overlaps(start, end) {
			s.expireLocked(r, now)
		}
	}
}

func (s *MemoryStore) expireLocked(r *Reservation, now time.Time) {
	reason := ReasonExpired
	r.Status = StatusExpired
	r.ReleaseReason = &reason
	r.UpdatedAt = now
}

func (s *MemoryStore) conflictsLocked(providerID, skipID uuid.UUID, start, end, now time.Time) bool {
	for _, r := range s.items {
		if r.ProviderID != providerID || r.ID == skipID {
			continue
		}
		if r.IsActive(now) && r.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Insert(_ context.Context, r *Reservation, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireOverlappingLocked(r.ProviderID, r.ID, r.Start, r.End, now)
	if s.conflictsLocked(r.ProviderID, r.ID, r.Start, r.End, now) {
		return apperr.ErrSlotUnavailable
	}

	cp := *r
	cp.Status = StatusHeld
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.items[cp.ID] = &cp
	*r = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ConfirmHeld(_ context.Context, id uuid.UUID, now time.Time) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[id]
	if !ok || r.Status != StatusHeld || !now.Before(r.ExpiresAt) {
		return nil, ErrReservationNotFound
	}
	r.Status = StatusConfirmed
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ReleaseActive(_ context.Context, id uuid.UUID, reason ReleaseReason, now time.Time) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[id]
	if !ok || (r.Status != StatusHeld && r.Status != StatusConfirmed) {
		return nil, ErrReservationNotFound
	}
	r.Status = StatusReleased
	r.ReleaseReason = &reason
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) AttachHeld(_ context.Context, id, bookingID uuid.UUID, until, now time.Time) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[id]
	if !ok || r.Status != StatusHeld || !now.Before(r.ExpiresAt) {
		return nil, ErrReservationNotFound
	}
	bid := bookingID
	r.BookingID = &bid
	if until.After(r.ExpiresAt) {
		r.ExpiresAt = until
	}
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Move(_ context.Context, id uuid.UUID, start, end, now time.Time) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[id]
	if !ok || !r.IsActive(now) {
		return nil, ErrReservationNotFound
	}

	s.expireOverlappingLocked(r.ProviderID, id, start, end, now)
	if s.conflictsLocked(r.ProviderID, id, start, end, now) {
		return nil, apperr.ErrSlotUnavailable
	}

	r.Start = start
	r.End = end
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListActive(_ context.Context, providerID uuid.UUID, from, to, now time.Time) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Reservation
	for _, r := range s.items {
		if r.ProviderID == providerID && r.IsActive(now) && r.Overlaps(from, to) {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return result, nil
}

func (s *MemoryStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.items {
		if r.Status == StatusHeld && !now.Before(r.ExpiresAt) {
			s.expireLocked(r, now)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PendingCompensation(_ context.Context, limit int) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Reservation
	for _, r := range s.items {
		if r.Status == StatusExpired && r.CompensatedAt == nil {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) MarkCompensated(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.items[id]; ok && r.CompensatedAt == nil {
		t := now
		r.CompensatedAt = &t
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, providerID uuid.UUID, now time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, r := range s.items {
		if r.ProviderID != providerID {
			continue
		}
		switch {
		case r.Status == StatusConfirmed:
			st.Confirmed++
		case r.Status == StatusReleased:
			st.Released++
		case r.Status == StatusExpired, r.Status == StatusHeld && !now.Before(r.ExpiresAt):
			st.Expired++
		default:
			st.Held++
		}
	}
	return st, nil
}
