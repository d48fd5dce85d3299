package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/config"
	"github.com/hackgods/booking-settlement-engine/internal/db"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

// Settings is a provider's booking configuration.
type Settings struct {
	ProviderID            uuid.UUID               `json:"provider_id"`
	Mode                  Type                    `json:"mode"`
	ConfirmationDeadline  time.Duration           `json:"confirmation_deadline"`
	ExpireAfter           time.Duration           `json:"expire_after"`
	ReminderAfter         time.Duration           `json:"reminder_after"`
	ExpiringWarning       time.Duration           `json:"expiring_warning"`
	MinAdvanceNotice      time.Duration           `json:"min_advance_notice"`
	MaxAdvanceNotice      time.Duration           `json:"max_advance_notice"`
	MaxRescheduleAttempts int                     `json:"max_reschedule_attempts"`
	RescheduleWindow      time.Duration           `json:"reschedule_window"`
	BufferMinutes         int                     `json:"buffer_minutes"`
	CapturePoint          settlement.CapturePoint `json:"capture_point"`
	Timezone              string                  `json:"timezone"`
	CancellationPolicy    settlement.Policy       `json:"cancellation_policy"`
}

func DefaultSettings(d config.BookingDefaults, s config.SettlementConfig) Settings {
	return Settings{
		Mode:                  Type(d.Mode),
		ConfirmationDeadline:  d.ConfirmationDeadline,
		ExpireAfter:           d.ExpireAfter,
		ReminderAfter:         d.ReminderAfter,
		ExpiringWarning:       d.ExpiringWarning,
		MinAdvanceNotice:      d.MinAdvanceNotice,
		MaxAdvanceNotice:      d.MaxAdvanceNotice,
		MaxRescheduleAttempts: d.MaxRescheduleAttempts,
		RescheduleWindow:      d.RescheduleWindow,
		BufferMinutes:         d.BufferMinutes,
		CapturePoint:          settlement.CapturePoint(s.CapturePoint),
		Timezone:              d.Timezone,
		CancellationPolicy:    settlement.DefaultPolicy(),
	}
}

func (s Settings) Validate() error {
	if !s.Mode.Valid() {
		return apperr.Validationf("mode must be instant or request")
	}
	if s.ExpireAfter < s.ConfirmationDeadline {
		return apperr.Validationf("expire_after must not be shorter than the confirmation deadline")
	}
	if s.MinAdvanceNotice < 0 || s.MaxAdvanceNotice <= s.MinAdvanceNotice {
		return apperr.Validationf("advance notice window is empty")
	}
	if s.MaxRescheduleAttempts < 0 || s.BufferMinutes < 0 {
		return apperr.Validationf("reschedule attempts and buffer must not be negative")
	}
	if s.CapturePoint != settlement.CaptureOnCompletion && s.CapturePoint != settlement.CaptureOnConfirmation {
		return apperr.Validationf("unknown capture point %q", s.CapturePoint)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return apperr.Validationf("unknown timezone %q", s.Timezone)
	}
	return s.CancellationPolicy.Validate()
}

type SettingsStore interface {
	Get(ctx context.Context, providerID uuid.UUID) (Settings, error)
}

// PgSettingsStore reads provider_settings and falls back to the defaults for
// providers without a row.
type PgSettingsStore struct {
	pool     db.Querier
	defaults Settings
}

func NewPgSettingsStore(pool db.Querier, defaults Settings) *PgSettingsStore {
	return &PgSettingsStore{pool: pool, defaults: defaults}
}

func mins(d time.Duration) int { return int(d / time.Minute) }

func fromMins(m int) time.Duration { return time.Duration(m) * time.Minute }

func (s *PgSettingsStore) Get(ctx context.Context, providerID uuid.UUID) (Settings, error) {
	var (
		st                                                  Settings
		mode, capturePoint                                  string
		deadline, expire, reminder, warning, minAdv, maxAdv int
		window                                              int
		policy                                              []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT mode, confirmation_deadline_mins, expire_after_mins, reminder_after_mins,
		       expiring_warning_mins, min_advance_mins, max_advance_mins, max_reschedule_attempts,
		       reschedule_window_mins, buffer_minutes, capture_point, timezone, cancellation_policy
		FROM provider_settings
		WHERE provider_id = $1
	`, providerID).Scan(
		&mode, &deadline, &expire, &reminder,
		&warning, &minAdv, &maxAdv, &st.MaxRescheduleAttempts,
		&window, &st.BufferMinutes, &capturePoint, &st.Timezone, &policy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			d := s.defaults
			d.ProviderID = providerID
			return d, nil
		}
		return Settings{}, fmt.Errorf("load provider settings: %w", err)
	}

	st.ProviderID = providerID
	st.Mode = Type(mode)
	st.CapturePoint = settlement.CapturePoint(capturePoint)
	st.ConfirmationDeadline = fromMins(deadline)
	st.ExpireAfter = fromMins(expire)
	st.ReminderAfter = fromMins(reminder)
	st.ExpiringWarning = fromMins(warning)
	st.MinAdvanceNotice = fromMins(minAdv)
	st.MaxAdvanceNotice = fromMins(maxAdv)
	st.RescheduleWindow = fromMins(window)
	st.CancellationPolicy = s.defaults.CancellationPolicy
	if len(policy) > 0 {
		var p settlement.Policy
		if err := json.Unmarshal(policy, &p); err != nil {
			return Settings{}, fmt.Errorf("decode cancellation policy: %w", err)
		}
		st.CancellationPolicy = p
	}
	return st, nil
}

func (s *PgSettingsStore) Upsert(ctx context.Context, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	policy, err := json.Marshal(st.CancellationPolicy)
	if err != nil {
		return fmt.Errorf("encode cancellation policy: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO provider_settings
			(provider_id, mode, confirmation_deadline_mins, expire_after_mins, reminder_after_mins,
			 expiring_warning_mins, min_advance_mins, max_advance_mins, max_reschedule_attempts,
			 reschedule_window_mins, buffer_minutes, capture_point, timezone, cancellation_policy, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (provider_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			confirmation_deadline_mins = EXCLUDED.confirmation_deadline_mins,
			expire_after_mins = EXCLUDED.expire_after_mins,
			reminder_after_mins = EXCLUDED.reminder_after_mins,
			expiring_warning_mins = EXCLUDED.expiring_warning_mins,
			min_advance_mins = EXCLUDED.min_advance_mins,
			max_advance_mins = EXCLUDED.max_advance_mins,
			max_reschedule_attempts = EXCLUDED.max_reschedule_attempts,
			reschedule_window_mins = EXCLUDED.reschedule_window_mins,
			buffer_minutes = EXCLUDED.buffer_minutes,
			capture_point = EXCLUDED.capture_point,
			timezone = EXCLUDED.timezone,
			cancellation_policy = EXCLUDED.cancellation_policy,
			updated_at = now()
	`, st.ProviderID, string(st.Mode), mins(st.ConfirmationDeadline), mins(st.ExpireAfter), mins(st.ReminderAfter),
		mins(st.ExpiringWarning), mins(st.MinAdvanceNotice), mins(st.MaxAdvanceNotice), st.MaxRescheduleAttempts,
		mins(st.RescheduleWindow), st.BufferMinutes, string(st.CapturePoint), st.Timezone, policy)
	if err != nil {
		return fmt.Errorf("upsert provider settings: %w", err)
	}
	return nil
}

// StaticSettings serves the defaults plus per-provider overrides from memory.
type StaticSettings struct {
	mu        sync.RWMutex
	defaults  Settings
	overrides map[uuid.UUID]Settings
}

func NewStaticSettings(defaults Settings) *StaticSettings {
	return &StaticSettings{defaults: defaults, overrides: make(map[uuid.UUID]Settings)}
}

func (s *StaticSettings) Set(st Settings) {
	s.mu.Lock()
	s.overrides[st.ProviderID] = st
	s.mu.Unlock()
}

func (s *StaticSettings) Get(_ context.Context, providerID uuid.UUID) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.overrides[providerID]; ok {
		return st, nil
	}
	d := s.defaults
	d.ProviderID = providerID
	return d, nil
}
