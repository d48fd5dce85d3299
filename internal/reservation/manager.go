package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/metrics"
	redisclient "github.com/hackgods/booking-settlement-engine/internal/redis"
)

type Manager struct {
	store   Store
	locker  redisclient.Locker
	clock   clock.Clock
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewManager(store Store, locker redisclient.Locker, clk clock.Clock, ttl time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Manager {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		store:   store,
		locker:  locker,
		clock:   clk,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
	}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire claims [start, end+buffer) for the provider. An overlapping active
// reservation yields apperr.ErrSlotUnavailable, which is never retried here.
func (m *Manager) Acquire(ctx context.Context, req AcquireRequest) (*Reservation, error) {
	now := m.clock.Now()

	if req.ProviderID == uuid.Nil {
		return nil, apperr.Validationf("provider_id is required")
	}
	if !req.End.After(req.Start) {
		return nil, apperr.Validationf("end must be after start")
	}
	if req.Start.Before(now) {
		return nil, apperr.Validationf("cannot reserve a window in the past")
	}
	if req.Buffer < 0 {
		return nil, apperr.Validationf("buffer must not be negative")
	}

	res := &Reservation{
		ID:         uuid.New(),
		ProviderID: req.ProviderID,
		PatientID:  req.PatientID,
		BookingID:  req.BookingID,
		SessionID:  req.SessionID,
		Start:      req.Start.UTC(),
		End:        req.End.Add(req.Buffer).UTC(),
		Status:     StatusHeld,
		ExpiresAt:  now.Add(m.ttl),
	}

	ran := false
	err := m.locker.WithProviderLock(ctx, req.ProviderID, func(lockCtx context.Context) error {
		ran = true
		return m.store.Insert(lockCtx, res, m.clock.Now())
	})
	if err != nil && !ran {
		// the lock only narrows contention; the store's atomic insert is authoritative
		m.logger.Warn().Err(err).Str("provider_id", req.ProviderID.String()).Msg("provider lock unavailable, inserting without it")
		err = m.store.Insert(ctx, res, m.clock.Now())
	}

	if err != nil {
		if errors.Is(err, apperr.ErrSlotUnavailable) {
			m.metrics.ObserveReservation("acquire", "conflict")
			return nil, err
		}
		m.metrics.ObserveReservation("acquire", "error")
		return nil, fmt.Errorf("acquire reservation: %w", err)
	}

	m.metrics.ObserveReservation("acquire", "ok")
	m.logger.Info().
		Str("reservation_id", res.ID.String()).
		Str("provider_id", res.ProviderID.String()).
		Time("start", res.Start).
		Time("end", res.End).
		Msg("reservation held")
	return res, nil
}

// Confirm promotes a held reservation. Confirming twice is a no-op; confirming
// a released or expired reservation fails with apperr.ErrExpired.
func (m *Manager) Confirm(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	now := m.clock.Now()

	res, err := m.store.ConfirmHeld(ctx, id, now)
	if err == nil {
		m.metrics.ObserveReservation("confirm", "ok")
		return res, nil
	}
	if !errors.Is(err, ErrReservationNotFound) {
		return nil, fmt.Errorf("confirm reservation: %w", err)
	}

	current, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status == StatusConfirmed:
		return current, nil
	case current.Status == StatusHeld && !current.IsActive(now):
		return nil, apperr.Expiredf("reservation %s expired at %s", id, current.ExpiresAt.Format(time.RFC3339))
	default:
		return nil, apperr.Expiredf("reservation %s is %s", id, current.Status)
	}
}

// Release frees the window. Releasing an already released or expired
// reservation returns it unchanged.
func (m *Manager) Release(ctx context.Context, id uuid.UUID, reason ReleaseReason) (*Reservation, error) {
	res, err := m.store.ReleaseActive(ctx, id, reason, m.clock.Now())
	if err == nil {
		m.metrics.ObserveReservation("release", string(reason))
		return res, nil
	}
	if !errors.Is(err, ErrReservationNotFound) {
		return nil, fmt.Errorf("release reservation: %w", err)
	}
	return m.store.Get(ctx, id)
}

// Attach correlates a held reservation with a booking and keeps it held until
// the booking's own deadline.
func (m *Manager) Attach(ctx context.Context, id, bookingID uuid.UUID, until time.Time) (*Reservation, error) {
	res, err := m.store.AttachHeld(ctx, id, bookingID, until, m.clock.Now())
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrReservationNotFound) {
		return nil, fmt.Errorf("attach reservation: %w", err)
	}
	if _, getErr := m.store.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, apperr.Expiredf("reservation %s is no longer held", id)
}

// Move swaps the reservation to a new window atomically. A conflict leaves the
// old window in place.
func (m *Manager) Move(ctx context.Context, id uuid.UUID, start, end time.Time, buffer time.Duration) (*Reservation, error) {
	if !end.After(start) {
		return nil, apperr.Validationf("end must be after start")
	}

	current, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var moved *Reservation
	ran := false
	move := func(lockCtx context.Context) error {
		ran = true
		var mErr error
		moved, mErr = m.store.Move(lockCtx, id, start.UTC(), end.Add(buffer).UTC(), m.clock.Now())
		return mErr
	}
	err = m.locker.WithProviderLock(ctx, current.ProviderID, move)
	if err != nil && !ran {
		err = move(ctx)
	}
	if err != nil {
		if errors.Is(err, apperr.ErrSlotUnavailable) {
			m.metrics.ObserveReservation("move", "conflict")
			return nil, err
		}
		if errors.Is(err, ErrReservationNotFound) {
			return nil, apperr.Expiredf("reservation %s is no longer active", id)
		}
		return nil, fmt.Errorf("move reservation: %w", err)
	}
	m.metrics.ObserveReservation("move", "ok")
	return moved, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) ListActive(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Reservation, error) {
	if !to.After(from) {
		return nil, apperr.Validationf("to must be after from")
	}
	return m.store.ListActive(ctx, providerID, from, to, m.clock.Now())
}

func (m *Manager) Stats(ctx context.Context, providerID uuid.UUID) (Stats, error) {
	return m.store.Stats(ctx, providerID, m.clock.Now())
}

// Compensator undoes side effects of a reservation that expired, e.g. an
// orphaned payment hold taken before the booking was persisted.
type Compensator func(ctx context.Context, r Reservation) error

// Sweep expires stale holds, then runs compensate for each expired reservation
// not yet compensated. Failures are logged and retried on the next run.
func (m *Manager) Sweep(ctx context.Context, batch int, compensate Compensator) (expired int64, compensated int, err error) {
	expired, err = m.store.ExpireStale(ctx, m.clock.Now())
	if err != nil {
		return 0, 0, err
	}

	pending, err := m.store.PendingCompensation(ctx, batch)
	if err != nil {
		return expired, 0, err
	}

	for _, r := range pending {
		if compensate != nil {
			if cErr := compensate(ctx, r); cErr != nil {
				m.logger.Error().Err(cErr).Str("reservation_id", r.ID.String()).Msg("reservation compensation failed")
				m.metrics.ObserveSwept("reservation_cleanup", "error")
				continue
			}
		}
		if mErr := m.store.MarkCompensated(ctx, r.ID, m.clock.Now()); mErr != nil {
			m.logger.Error().Err(mErr).Str("reservation_id", r.ID.String()).Msg("mark reservation compensated failed")
			continue
		}
		m.metrics.ObserveSwept("reservation_cleanup", "ok")
		compensated++
	}
	return expired, compensated, nil
}
