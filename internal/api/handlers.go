package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/booking"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

const (
	defaultPageSize = 20
	maxEventsPage   = 200
)

type bookingHandlers struct {
	svc    *booking.Service
	logger zerolog.Logger
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func pageParams(r *http.Request) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func actor(w http.ResponseWriter, r *http.Request) (audit.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no actor on request")
	}
	return a, ok
}

// canView allows the two parties of a booking and admins.
func canView(a audit.Actor, b *booking.Booking) bool {
	switch a.Role {
	case audit.RoleAdmin:
		return true
	case audit.RolePatient:
		return a.UserID == b.PatientID
	case audit.RoleProvider:
		return a.UserID == b.ProviderID
	}
	return false
}

// isSelfOrAdmin guards per-user listings.
func isSelfOrAdmin(a audit.Actor, role audit.Role, userID uuid.UUID) bool {
	return a.Role == audit.RoleAdmin || (a.Role == role && a.UserID == userID)
}

func (h *bookingHandlers) create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	var patientID uuid.UUID
	switch a.Role {
	case audit.RolePatient:
		patientID = a.UserID
	case audit.RoleAdmin:
		id, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		patientID = id
	default:
		writeError(w, http.StatusForbidden, "forbidden", "only patients and admins create bookings")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}

	in := booking.CreateRequest{
		PatientID:  patientID,
		ProviderID: providerID,
		Service: booking.ServiceSnapshot{
			ID:              req.Service.ID,
			Name:            req.Service.Name,
			PriceCents:      req.Service.PriceCents,
			DurationMinutes: req.Service.DurationMinutes,
			Description:     req.Service.Description,
		},
		Start:           req.Start,
		Type:            booking.Type(req.Type),
		PaymentMode:     settlement.Mode(req.PaymentMode),
		PaymentMethod:   req.PaymentMethod,
		SessionID:       req.SessionID,
		PatientTimezone: req.PatientTimezone,
		Source:          audit.Source(req.Source),
	}
	if req.ReservationID != "" {
		resID, err := uuid.Parse(req.ReservationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "reservation_id must be a valid UUID")
			return
		}
		in.ReservationID = &resID
	}

	b, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *bookingHandlers) get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !canView(a, b) {
		writeError(w, http.StatusForbidden, "forbidden", "not a party to this booking")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *bookingHandlers) listByPatient(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("patient_id")
	if raw == "" && a.Role == audit.RolePatient {
		raw = a.UserID.String()
	}
	patientID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	if !isSelfOrAdmin(a, audit.RolePatient, patientID) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot list another patient's bookings")
		return
	}

	limit, offset := pageParams(r)
	bookings, err := h.svc.ListByPatient(r.Context(), patientID, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingListResponse{Bookings: bookings, Limit: limit, Offset: offset})
}

func (h *bookingHandlers) listByProvider(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	providerID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if !isSelfOrAdmin(a, audit.RoleProvider, providerID) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot list another provider's bookings")
		return
	}

	limit, offset := pageParams(r)
	status := booking.Status(r.URL.Query().Get("status"))
	bookings, err := h.svc.ListByProvider(r.Context(), providerID, status, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingListResponse{Bookings: bookings, Limit: limit, Offset: offset})
}

func (h *bookingHandlers) availability(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	providerID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC 3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC 3339 timestamp")
		return
	}

	busy, err := h.svc.Availability(r.Context(), providerID, from.UTC(), to.UTC())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		ProviderID: providerID.String(),
		From:       from.UTC(),
		To:         to.UTC(),
		Busy:       busy,
	})
}

// action adapts the booking operations that take only an id, the actor and
// an optional reason.
func (h *bookingHandlers) action(op func(r *http.Request, id uuid.UUID, a audit.Actor, reason string) (*booking.Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actor(w, r)
		if !ok {
			return
		}
		id, ok := parseID(w, r, "id")
		if !ok {
			return
		}
		var req ReasonRequest
		if !decode(w, r, &req) {
			return
		}
		b, err := op(r, id, a, req.Reason)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *bookingHandlers) confirm(r *http.Request, id uuid.UUID, a audit.Actor, _ string) (*booking.Booking, error) {
	return h.svc.Confirm(r.Context(), id, a)
}

func (h *bookingHandlers) decline(r *http.Request, id uuid.UUID, a audit.Actor, reason string) (*booking.Booking, error) {
	return h.svc.Decline(r.Context(), id, a, reason)
}

func (h *bookingHandlers) cancel(r *http.Request, id uuid.UUID, a audit.Actor, reason string) (*booking.Booking, error) {
	return h.svc.Cancel(r.Context(), id, a, reason)
}

func (h *bookingHandlers) complete(r *http.Request, id uuid.UUID, a audit.Actor, _ string) (*booking.Booking, error) {
	return h.svc.Complete(r.Context(), id, a)
}

func (h *bookingHandlers) noShow(r *http.Request, id uuid.UUID, a audit.Actor, _ string) (*booking.Booking, error) {
	return h.svc.MarkNoShow(r.Context(), id, a)
}

func (h *bookingHandlers) proposeReschedule(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req ProposeRescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	b, err := h.svc.ProposeReschedule(r.Context(), id, a, req.Candidates, req.Message)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *bookingHandlers) respondReschedule(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req RespondRescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	b, err := h.svc.RespondReschedule(r.Context(), id, a, req.Accept, req.Chosen)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *bookingHandlers) events(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !canView(a, b) {
		writeError(w, http.StatusForbidden, "forbidden", "not a party to this booking")
		return
	}
	events, err := h.svc.Events(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *bookingHandlers) actorEvents(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	userID, ok := parseID(w, r, "userID")
	if !ok {
		return
	}
	if a.Role != audit.RoleAdmin && a.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden", "cannot read another user's history")
		return
	}
	limit, _ := pageParams(r)
	if limit > maxEventsPage {
		limit = maxEventsPage
	}
	events, err := h.svc.ActorEvents(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
