package reservation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

type Status string

const (
	StatusHeld      Status = "held"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

type ReleaseReason string

const (
	ReasonConverted        ReleaseReason = "converted"
	ReasonExpired          ReleaseReason = "expired"
	ReasonUserCancelled    ReleaseReason = "user_cancelled"
	ReasonPaymentFailed    ReleaseReason = "payment_failed"
	ReasonBookingCancelled ReleaseReason = "booking_cancelled"
	ReasonBookingExpired   ReleaseReason = "booking_expired"
	ReasonRescheduled      ReleaseReason = "rescheduled"
	ReasonAdmin            ReleaseReason = "admin"
)

var ErrReservationNotFound = fmt.Errorf("%w: reservation", apperr.ErrNotFound)

type Reservation struct {
	ID            uuid.UUID      `json:"id"`
	ProviderID    uuid.UUID      `json:"provider_id"`
	PatientID     *uuid.UUID     `json:"patient_id,omitempty"`
	BookingID     *uuid.UUID     `json:"booking_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Start         time.Time      `json:"start_time"`
	End           time.Time      `json:"end_time"`
	Status        Status         `json:"status"`
	ExpiresAt     time.Time      `json:"expires_at"`
	ReleaseReason *ReleaseReason `json:"release_reason,omitempty"`
	CompensatedAt *time.Time     `json:"compensated_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsActive reports whether the reservation still blocks its window at now.
// A held reservation past its expiry is inactive even before the sweep runs.
func (r *Reservation) IsActive(now time.Time) bool {
	switch r.Status {
	case StatusConfirmed:
		return true
	case StatusHeld:
		return now.Before(r.ExpiresAt)
	default:
		return false
	}
}

// Overlaps uses half-open [start, end) intervals.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.Start.Before(end) && start.Before(r.End)
}

type Stats struct {
	Held      int `json:"held"`
	Confirmed int `json:"confirmed"`
	Released  int `json:"released"`
	Expired   int `json:"expired"`
}

// AcquireRequest describes a prospective claim. Buffer pads the end of the
// window so back-to-back appointments keep the provider's turnaround time.
type AcquireRequest struct {
	ProviderID uuid.UUID
	PatientID  *uuid.UUID
	BookingID  *uuid.UUID
	SessionID  string
	Start      time.Time
	End        time.Time
	Buffer     time.Duration
}
