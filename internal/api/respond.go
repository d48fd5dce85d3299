package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, apperr.ErrNotParty):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperr.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "this time is no longer available")
	case errors.Is(err, apperr.ErrTerminal):
		writeError(w, http.StatusConflict, "booking_terminal", err.Error())
	case errors.Is(err, apperr.ErrStaleVersion):
		writeError(w, http.StatusConflict, "stale_version", err.Error())
	case errors.Is(err, apperr.ErrRescheduleExhausted):
		writeError(w, http.StatusConflict, "reschedule_exhausted", err.Error())
	case errors.Is(err, apperr.ErrProposalPending):
		writeError(w, http.StatusConflict, "proposal_pending", err.Error())
	case errors.Is(err, apperr.ErrNoProposal):
		writeError(w, http.StatusConflict, "no_proposal", err.Error())
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperr.ErrExpired):
		writeError(w, http.StatusGone, "expired", err.Error())
	case errors.Is(err, apperr.ErrPayment):
		if apperr.IsRetryablePayment(err) {
			writeError(w, http.StatusServiceUnavailable, "payment_unavailable", "payment processor unavailable, please retry")
			return
		}
		writeError(w, http.StatusPaymentRequired, "payment_failed", err.Error())
	default:
		logger.Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
