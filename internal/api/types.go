package api

import (
	"time"

	"github.com/hackgods/booking-settlement-engine/internal/booking"
)

type CreateReservationRequest struct {
	ProviderID    string    `json:"provider_id"`
	Start         time.Time `json:"start_time"`
	End           time.Time `json:"end_time"`
	BufferMinutes int       `json:"buffer_minutes"`
	SessionID     string    `json:"session_id"`
}

type ServiceRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PriceCents      int64  `json:"price_cents"`
	DurationMinutes int    `json:"duration_minutes"`
	Description     string `json:"description"`
}

type CreateBookingRequest struct {
	// PatientID is only honoured for admins; patients always book for themselves.
	PatientID       string         `json:"patient_id"`
	ProviderID      string         `json:"provider_id"`
	Service         ServiceRequest `json:"service"`
	Start           time.Time      `json:"start_time"`
	Type            string         `json:"type"`
	PaymentMode     string         `json:"payment_mode"`
	PaymentMethod   string         `json:"payment_method"`
	ReservationID   string         `json:"reservation_id"`
	SessionID       string         `json:"session_id"`
	PatientTimezone string         `json:"patient_timezone"`
	Source          string         `json:"source"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ProposeRescheduleRequest struct {
	Candidates []booking.TimeWindow `json:"candidates"`
	Message    string               `json:"message"`
}

type RespondRescheduleRequest struct {
	Accept bool                `json:"accept"`
	Chosen *booking.TimeWindow `json:"chosen,omitempty"`
}

type BookingListResponse struct {
	Bookings []booking.Booking `json:"bookings"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type AvailabilityResponse struct {
	ProviderID string             `json:"provider_id"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	Busy       []booking.Interval `json:"busy"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
