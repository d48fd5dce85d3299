package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
)

type reservationHandlers struct {
	mgr    *reservation.Manager
	logger zerolog.Logger
}

func canViewReservation(a audit.Actor, res *reservation.Reservation) bool {
	switch a.Role {
	case audit.RoleAdmin:
		return true
	case audit.RoleProvider:
		return a.UserID == res.ProviderID
	case audit.RolePatient:
		return res.PatientID != nil && *res.PatientID == a.UserID
	}
	return false
}

func (h *reservationHandlers) create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}

	in := reservation.AcquireRequest{
		ProviderID: providerID,
		SessionID:  req.SessionID,
		Start:      req.Start,
		End:        req.End,
		Buffer:     time.Duration(req.BufferMinutes) * time.Minute,
	}
	if a.Role == audit.RolePatient {
		patientID := a.UserID
		in.PatientID = &patientID
	}

	res, err := h.mgr.Acquire(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *reservationHandlers) load(w http.ResponseWriter, r *http.Request) (audit.Actor, *reservation.Reservation, bool) {
	a, ok := actor(w, r)
	if !ok {
		return a, nil, false
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return a, nil, false
	}
	res, err := h.mgr.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return a, nil, false
	}
	if !canViewReservation(a, res) {
		writeError(w, http.StatusForbidden, "forbidden", "not a party to this reservation")
		return a, nil, false
	}
	return a, res, true
}

func (h *reservationHandlers) get(w http.ResponseWriter, r *http.Request) {
	_, res, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// confirm is an operator escape hatch; bookings convert their own holds.
func (h *reservationHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	a, res, ok := h.load(w, r)
	if !ok {
		return
	}
	if a.Role != audit.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "only admins confirm reservations directly")
		return
	}
	confirmed, err := h.mgr.Confirm(r.Context(), res.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmed)
}

func (h *reservationHandlers) release(w http.ResponseWriter, r *http.Request) {
	a, res, ok := h.load(w, r)
	if !ok {
		return
	}
	if res.BookingID != nil && a.Role != audit.RoleAdmin {
		writeError(w, http.StatusConflict, "reservation_in_use", "reservation belongs to a booking; cancel the booking instead")
		return
	}
	reason := reservation.ReasonUserCancelled
	if a.Role == audit.RoleAdmin {
		reason = reservation.ReasonAdmin
	}
	released, err := h.mgr.Release(r.Context(), res.ID, reason)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, released)
}

func (h *reservationHandlers) stats(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	providerID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if !isSelfOrAdmin(a, audit.RoleProvider, providerID) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot read another provider's reservations")
		return
	}
	stats, err := h.mgr.Stats(r.Context(), providerID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
