package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
)

type Event string

const (
	EventNewRequest            Event = "new_booking_request"
	EventRequestSent           Event = "booking_request_sent"
	EventConfirmed             Event = "booking_confirmed"
	EventDeclined              Event = "booking_declined"
	EventRescheduleProposed    Event = "reschedule_proposed"
	EventRescheduleAccepted    Event = "reschedule_accepted"
	EventExpiringSoon          Event = "booking_expiring_soon"
	EventReminder              Event = "booking_reminder"
	EventCancelled             Event = "booking_cancelled"
	EventExpired               Event = "booking_expired"
	EventCompleted             Event = "booking_completed"
	EventPaymentActionRequired Event = "payment_action_required"
)

// realtimeTypes are the message types websocket clients switch on.
var realtimeTypes = map[Event]string{
	EventNewRequest:            "booking.new",
	EventRequestSent:           "booking.request_sent",
	EventConfirmed:             "booking.confirmed",
	EventDeclined:              "booking.declined",
	EventRescheduleProposed:    "booking.reschedule_proposed",
	EventRescheduleAccepted:    "booking.reschedule_accepted",
	EventExpiringSoon:          "booking.expiring_soon",
	EventReminder:              "booking.reminder",
	EventCancelled:             "booking.cancelled",
	EventExpired:               "booking.expired",
	EventCompleted:             "booking.completed",
	EventPaymentActionRequired: "payment.action_required",
}

// BookingInfo is the slice of a booking the dispatcher renders from.
type BookingInfo struct {
	ID          uuid.UUID
	Number      string
	Status      string
	PatientID   uuid.UUID
	ProviderID  uuid.UUID
	ServiceName string
	Start       time.Time
	ExpiresAt   *time.Time
	AmountCents int64
	RefundCents int64
	Reason      string
}

type Recipient struct {
	UserID uuid.UUID
	Role   audit.Role
}

// Notice is one rendered message for one recipient.
type Notice struct {
	Event         Event          `json:"event"`
	Type          string         `json:"type"`
	BookingID     uuid.UUID      `json:"booking_id"`
	BookingNumber string         `json:"booking_number"`
	Status        string         `json:"status,omitempty"`
	Recipient     Recipient      `json:"-"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	Data          map[string]any `json:"data,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func (b BookingInfo) party(role audit.Role) Recipient {
	if role == audit.RoleProvider {
		return Recipient{UserID: b.ProviderID, Role: audit.RoleProvider}
	}
	return Recipient{UserID: b.PatientID, Role: audit.RolePatient}
}

func counterparty(role audit.Role) audit.Role {
	if role == audit.RoleProvider {
		return audit.RolePatient
	}
	return audit.RoleProvider
}

func dollars(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func render(ev Event, b BookingInfo) (title, body string) {
	service := b.ServiceName
	if service == "" {
		service = "your appointment"
	}
	when := b.Start.UTC().Format("Mon Jan 2 15:04 MST")

	switch ev {
	case EventNewRequest:
		return "New Booking Request", fmt.Sprintf("A patient wants to book %s on %s", service, when)
	case EventRequestSent:
		return "Request Sent", fmt.Sprintf("Your request for %s on %s was sent to the provider", service, when)
	case EventConfirmed:
		return "Booking Confirmed", fmt.Sprintf("%s on %s is confirmed (%s)", service, when, b.Number)
	case EventDeclined:
		return "Booking Update", "Your booking request could not be accommodated. No charge was made."
	case EventRescheduleProposed:
		return "New Time Proposed", fmt.Sprintf("A different time was suggested for %s", service)
	case EventRescheduleAccepted:
		return "Reschedule Accepted", fmt.Sprintf("The new time for %s was accepted", service)
	case EventExpiringSoon:
		return "Request Expiring Soon", fmt.Sprintf("Respond to the request for %s before it expires", service)
	case EventReminder:
		return "Request Awaiting Response", fmt.Sprintf("A request for %s on %s is waiting for you", service, when)
	case EventCancelled:
		if b.RefundCents > 0 {
			return "Booking Cancelled", fmt.Sprintf("%s on %s was cancelled. %s will be refunded.", service, when, dollars(b.RefundCents))
		}
		return "Booking Cancelled", fmt.Sprintf("%s on %s was cancelled", service, when)
	case EventExpired:
		return "Request Expired", "Your booking request expired. No charge was made."
	case EventCompleted:
		return "Appointment Completed", fmt.Sprintf("Thanks for visiting. %s is complete.", service)
	case EventPaymentActionRequired:
		return "Payment Update Needed", fmt.Sprintf("We could not collect %s for %s. Please update your payment method.", dollars(b.AmountCents), b.Number)
	}
	return "Booking Update", fmt.Sprintf("Booking %s was updated", b.Number)
}
