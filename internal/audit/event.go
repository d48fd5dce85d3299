package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCreated                  EventType = "created"
	EventSlotReserved             EventType = "slot_reserved"
	EventSlotReleased             EventType = "slot_released"
	EventSlotConverted            EventType = "slot_converted"
	EventPaymentInitiated         EventType = "payment_initiated"
	EventPaymentHeld              EventType = "payment_held"
	EventPaymentCaptured          EventType = "payment_captured"
	EventPaymentFailed            EventType = "payment_failed"
	EventPaymentRefunded          EventType = "payment_refunded"
	EventPaymentHoldCancelled     EventType = "payment_hold_cancelled"
	EventGoodwillCreditIssued     EventType = "goodwill_credit_issued"
	EventStatusChanged            EventType = "status_changed"
	EventConfirmed                EventType = "confirmed"
	EventDeclined                 EventType = "declined"
	EventExpired                  EventType = "expired"
	EventCancelled                EventType = "cancelled"
	EventCompleted                EventType = "completed"
	EventNoShow                   EventType = "no_show"
	EventReminderSent             EventType = "reminder_sent"
	EventExpiringWarningSent      EventType = "expiring_warning_sent"
	EventRescheduleProposed       EventType = "reschedule_proposed"
	EventRescheduleAccepted       EventType = "reschedule_accepted"
	EventRescheduleRejected       EventType = "reschedule_rejected"
	EventRescheduleExpired        EventType = "reschedule_expired"
	EventManualCollectionRequired EventType = "manual_collection_required"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleProvider, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

type Source string

const (
	SourceApp   Source = "app"
	SourceWeb   Source = "web"
	SourceAPI   Source = "api"
	SourceCron  Source = "cron"
	SourceAdmin Source = "admin"
)

// Actor is who caused an event. System actors carry uuid.Nil.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

func System() Actor { return Actor{Role: RoleSystem} }

func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

type Event struct {
	ID             uuid.UUID       `json:"id"`
	BookingID      uuid.UUID       `json:"booking_id"`
	BookingNumber  string          `json:"booking_number"`
	Type           EventType       `json:"type"`
	Actor          Actor           `json:"actor"`
	Source         Source          `json:"source"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	NewStatus      string          `json:"new_status,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
