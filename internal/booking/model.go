package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/notify"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

// CurrentSchemaVersion is the booking document layout this binary writes.
// Records carrying a newer version are refused on read.
const CurrentSchemaVersion = 1

var (
	ErrBookingNotFound   = fmt.Errorf("%w: booking", apperr.ErrNotFound)
	ErrUnsupportedSchema = fmt.Errorf("unsupported booking schema version")
)

type Type string

const (
	TypeInstant Type = "instant"
	TypeRequest Type = "request"
)

func (t Type) Valid() bool { return t == TypeInstant || t == TypeRequest }

type ServiceSnapshot struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	PriceCents         int64             `json:"price_cents"`
	DurationMinutes    int               `json:"duration_minutes"`
	Description        string            `json:"description,omitempty"`
	CancellationPolicy settlement.Policy `json:"cancellation_policy"`
}

type Response string

const (
	ResponseAccepted    Response = "accepted"
	ResponseDeclined    Response = "declined"
	ResponseRescheduled Response = "rescheduled"
)

// Confirmation tracks the provider's answer to a request booking. DeadlineAt
// is what the provider is shown; ExpiresAt is when the request actually dies.
type Confirmation struct {
	Required            bool       `json:"required"`
	RequestedAt         time.Time  `json:"requested_at"`
	DeadlineAt          time.Time  `json:"deadline_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	ReminderAt          time.Time  `json:"reminder_at"`
	WarningAt           time.Time  `json:"warning_at"`
	RespondedAt         *time.Time `json:"responded_at,omitempty"`
	Response            Response   `json:"response,omitempty"`
	DeclineReason       string     `json:"decline_reason,omitempty"`
	RemindersSent       int        `json:"reminders_sent"`
	ExpiringWarningSent bool       `json:"expiring_warning_sent"`
}

type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w TimeWindow) Equal(o TimeWindow) bool {
	return w.Start.Equal(o.Start) && w.End.Equal(o.End)
}

type ProposalResponse string

const (
	ProposalAccepted ProposalResponse = "accepted"
	ProposalRejected ProposalResponse = "rejected"
	ProposalTimedOut ProposalResponse = "timed_out"
)

type Proposal struct {
	ID          uuid.UUID        `json:"id"`
	ProposedBy  audit.Role       `json:"proposed_by"`
	ProposerID  uuid.UUID        `json:"proposer_id"`
	Candidates  []TimeWindow     `json:"candidates"`
	Message     string           `json:"message,omitempty"`
	ProposedAt  time.Time        `json:"proposed_at"`
	RespondBy   time.Time        `json:"respond_by"`
	Response    ProposalResponse `json:"response,omitempty"`
	Chosen      *TimeWindow      `json:"chosen,omitempty"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
}

type Reschedule struct {
	Count       int        `json:"count"`
	MaxAttempts int        `json:"max_attempts"`
	Pending     *Proposal  `json:"pending,omitempty"`
	History     []Proposal `json:"history"`
}

type Cancellation struct {
	By          audit.Role `json:"by"`
	ActorID     uuid.UUID  `json:"actor_id"`
	Reason      string     `json:"reason,omitempty"`
	At          time.Time  `json:"at"`
	HoursBefore float64    `json:"hours_before"`
	FeePercent  int64      `json:"fee_percent"`
	FeeCents    int64      `json:"fee_cents"`
	RefundCents int64      `json:"refund_cents"`
	CreditCents int64      `json:"credit_cents"`
}

type Booking struct {
	ID            uuid.UUID `json:"id"`
	Number        string    `json:"booking_number"`
	Version       int64     `json:"version"`
	SchemaVersion int       `json:"schema_version"`
	Type          Type      `json:"type"`
	Status        Status    `json:"status"`

	PatientID  uuid.UUID       `json:"patient_id"`
	ProviderID uuid.UUID       `json:"provider_id"`
	Service    ServiceSnapshot `json:"service"`

	RequestedStart   time.Time  `json:"requested_start"`
	RequestedEnd     time.Time  `json:"requested_end"`
	ConfirmedStart   *time.Time `json:"confirmed_start,omitempty"`
	ConfirmedEnd     *time.Time `json:"confirmed_end,omitempty"`
	ProviderTimezone string     `json:"provider_timezone"`
	PatientTimezone  string     `json:"patient_timezone"`
	BufferMinutes    int        `json:"buffer_minutes"`
	ReservationID    uuid.UUID  `json:"reservation_id"`

	Confirmation Confirmation       `json:"confirmation"`
	Reschedule   Reschedule         `json:"reschedule"`
	Payment      settlement.Payment `json:"payment"`
	Cancellation *Cancellation      `json:"cancellation,omitempty"`

	Source      audit.Source `json:"source"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Start is the confirmed start when there is one, otherwise the requested one.
func (b *Booking) Start() time.Time {
	if b.ConfirmedStart != nil {
		return *b.ConfirmedStart
	}
	return b.RequestedStart
}

func (b *Booking) End() time.Time {
	if b.ConfirmedEnd != nil {
		return *b.ConfirmedEnd
	}
	return b.RequestedEnd
}

func (b *Booking) Window() TimeWindow {
	return TimeWindow{Start: b.Start(), End: b.End()}
}

func (b *Booking) Buffer() time.Duration {
	return time.Duration(b.BufferMinutes) * time.Minute
}

func (b *Booking) Duration() time.Duration {
	return time.Duration(b.Service.DurationMinutes) * time.Minute
}

func (b *Booking) confirmAt(w TimeWindow) {
	start, end := w.Start, w.End
	b.ConfirmedStart = &start
	b.ConfirmedEnd = &end
}

// roleOf resolves the role an actor acts in for this booking. Admins and the
// system act for either side.
func (b *Booking) roleOf(actor audit.Actor) (audit.Role, error) {
	switch actor.Role {
	case audit.RolePatient:
		if actor.UserID != b.PatientID {
			return "", apperr.ErrNotParty
		}
	case audit.RoleProvider:
		if actor.UserID != b.ProviderID {
			return "", apperr.ErrNotParty
		}
	case audit.RoleAdmin, audit.RoleSystem:
	default:
		return "", apperr.ErrNotParty
	}
	return actor.Role, nil
}

func (b *Booking) Info() notify.BookingInfo {
	info := notify.BookingInfo{
		ID:          b.ID,
		Number:      b.Number,
		Status:      string(b.Status),
		PatientID:   b.PatientID,
		ProviderID:  b.ProviderID,
		ServiceName: b.Service.Name,
		Start:       b.Start(),
		AmountCents: b.Payment.OriginalCents,
	}
	if b.Type == TypeRequest && b.Status == StatusPendingConfirmation {
		exp := b.Confirmation.ExpiresAt
		info.ExpiresAt = &exp
	}
	if b.Cancellation != nil {
		info.RefundCents = b.Cancellation.RefundCents
		info.Reason = b.Cancellation.Reason
	}
	return info
}

type CreateRequest struct {
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	Service         ServiceSnapshot
	Start           time.Time
	Type            Type
	PaymentMode     settlement.Mode
	PaymentMethod   string
	ReservationID   *uuid.UUID
	SessionID       string
	PatientTimezone string
	Source          audit.Source
}

// Interval is a busy span on a provider's calendar.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
