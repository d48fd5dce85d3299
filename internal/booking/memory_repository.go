package booking

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

// MemoryRepository keeps bookings in process. Stored values are deep copies
// so callers cannot mutate them behind the version check.
type MemoryRepository struct {
	mu      sync.RWMutex
	items   map[uuid.UUID][]byte
	numbers map[string]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:   make(map[uuid.UUID][]byte),
		numbers: make(map[string]uuid.UUID),
	}
}

func (r *MemoryRepository) decode(data []byte) *Booking {
	var b Booking
	if err := json.Unmarshal(data, &b); err != nil {
		panic("memory repository holds an undecodable booking: " + err.Error())
	}
	return &b
}

func (r *MemoryRepository) Create(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.numbers[b.Number]; ok {
		return ErrDuplicateNumber
	}
	if _, ok := r.items[b.ID]; ok {
		return apperr.Conflictf("booking %s already exists", b.ID)
	}
	b.Version = 1
	b.SchemaVersion = CurrentSchemaVersion
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	r.items[b.ID] = data
	r.numbers[b.Number] = b.ID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.items[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return r.decode(data), nil
}

func (r *MemoryRepository) Update(_ context.Context, b *Booking, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.items[b.ID]
	if !ok {
		return ErrBookingNotFound
	}
	if r.decode(data).Version != expectedVersion {
		return apperr.ErrStaleVersion
	}

	next := *b
	next.Version = expectedVersion + 1
	encoded, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	r.items[b.ID] = encoded
	b.Version = next.Version
	return nil
}

func (r *MemoryRepository) filter(keep func(b *Booking) bool) []Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Booking
	for _, data := range r.items {
		b := r.decode(data)
		if keep(b) {
			result = append(result, *b)
		}
	}
	return result
}

func page(items []Booking, limit, offset int) []Booking {
	limit, offset = clampPage(limit, offset)
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func firstN(items []Booking, limit int) []Booking {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	items := r.filter(func(b *Booking) bool { return b.PatientID == patientID })
	sort.Slice(items, func(i, j int) bool { return items[i].RequestedStart.After(items[j].RequestedStart) })
	return page(items, limit, offset), nil
}

func (r *MemoryRepository) ListByProvider(_ context.Context, providerID uuid.UUID, status Status, limit, offset int) ([]Booking, error) {
	items := r.filter(func(b *Booking) bool {
		return b.ProviderID == providerID && (status == "" || b.Status == status)
	})
	sort.Slice(items, func(i, j int) bool { return items[i].RequestedStart.Before(items[j].RequestedStart) })
	return page(items, limit, offset), nil
}

func (r *MemoryRepository) ListConfirmedInRange(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Booking, error) {
	items := r.filter(func(b *Booking) bool {
		return b.ProviderID == providerID && b.Status == StatusConfirmed &&
			b.ConfirmedStart.Before(to) && b.ConfirmedEnd.After(from)
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ConfirmedStart.Before(*items[j].ConfirmedStart) })
	return items, nil
}

func (r *MemoryRepository) due(limit int, keep func(b *Booking, d dueColumns) (time.Time, bool)) []Booking {
	type keyed struct {
		at time.Time
		b  Booking
	}
	var matches []keyed
	for _, b := range r.filter(func(*Booking) bool { return true }) {
		if at, ok := keep(&b, deriveDue(&b)); ok {
			matches = append(matches, keyed{at: at, b: b})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].at.Before(matches[j].at) })

	result := make([]Booking, 0, len(matches))
	for _, m := range matches {
		result = append(result, m.b)
	}
	return firstN(result, limit)
}

func (r *MemoryRepository) FindRemindersDue(_ context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.due(limit, func(b *Booking, d dueColumns) (time.Time, bool) {
		if d.reminderDueAt == nil || d.reminderDueAt.After(now) {
			return time.Time{}, false
		}
		return *d.reminderDueAt, true
	}), nil
}

func (r *MemoryRepository) FindWarningsDue(_ context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.due(limit, func(b *Booking, d dueColumns) (time.Time, bool) {
		if d.warningDueAt == nil || d.warningDueAt.After(now) || !d.expiresAt.After(now) {
			return time.Time{}, false
		}
		return *d.warningDueAt, true
	}), nil
}

func (r *MemoryRepository) FindExpiredRequests(_ context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.due(limit, func(b *Booking, d dueColumns) (time.Time, bool) {
		if d.expiresAt == nil || d.expiresAt.After(now) || d.proposalDue != nil {
			return time.Time{}, false
		}
		return *d.expiresAt, true
	}), nil
}

func (r *MemoryRepository) FindProposalsDue(_ context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.due(limit, func(b *Booking, d dueColumns) (time.Time, bool) {
		if d.proposalDue == nil || d.proposalDue.After(now) {
			return time.Time{}, false
		}
		return *d.proposalDue, true
	}), nil
}

func (r *MemoryRepository) FindCompletable(_ context.Context, endedBefore time.Time, limit int) ([]Booking, error) {
	return r.due(limit, func(b *Booking, d dueColumns) (time.Time, bool) {
		if b.Status != StatusConfirmed || b.ConfirmedEnd == nil || b.ConfirmedEnd.After(endedBefore) || d.proposalDue != nil {
			return time.Time{}, false
		}
		return *b.ConfirmedEnd, true
	}), nil
}

func (r *MemoryRepository) FindSettlementsDue(_ context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.due(limit, func(b *Booking, d dueColumns) (time.Time, bool) {
		if d.nextSettlement == nil || d.nextSettlement.After(now) {
			return time.Time{}, false
		}
		return *d.nextSettlement, true
	}), nil
}
