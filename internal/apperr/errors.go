// Package apperr holds the error taxonomy shared by the booking engine.
//
// Every error returned across a package boundary wraps exactly one of the kind
// sentinels below so callers (the HTTP layer, sweeps) can branch with errors.Is
// without knowing which component produced it.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrPayment    = errors.New("payment error")
	ErrExpired    = errors.New("expired")
	ErrNotFound   = errors.New("not found")
)

var (
	ErrSlotUnavailable     = fmt.Errorf("%w: this time is no longer available", ErrConflict)
	ErrStaleVersion        = fmt.Errorf("%w: booking was modified concurrently", ErrConflict)
	ErrTerminal            = fmt.Errorf("%w: booking is in a terminal state", ErrConflict)
	ErrInvalidTransition   = fmt.Errorf("%w: transition not allowed", ErrConflict)
	ErrRescheduleExhausted = fmt.Errorf("%w: reschedule attempts exhausted", ErrConflict)
	ErrProposalPending     = fmt.Errorf("%w: a reschedule proposal is awaiting response", ErrConflict)
	ErrNoProposal          = fmt.Errorf("%w: no reschedule proposal is pending", ErrConflict)
	ErrNotParty            = errors.New("actor is not a party to this booking")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Expiredf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExpired, fmt.Sprintf(format, args...))
}

// TerminalError reports the terminal status a mutation ran into.
func TerminalError(status string) error {
	return fmt.Errorf("%w (%s)", ErrTerminal, status)
}

// PaymentError is returned by processor adapters and the settlement service.
type PaymentError struct {
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *PaymentError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	msg := fmt.Sprintf("payment %s failed (%s", e.Op, kind)
	if e.Code != "" {
		msg += ", code=" + e.Code
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PaymentError) Unwrap() error { return e.Err }

func (e *PaymentError) Is(target error) bool { return target == ErrPayment }

// IsRetryablePayment reports whether err carries a retryable PaymentError.
func IsRetryablePayment(err error) bool {
	var pe *PaymentError
	return errors.As(err, &pe) && pe.Retryable
}
