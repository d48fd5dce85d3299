package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("acquire: %w", ErrSlotUnavailable)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, errors.Is(err, ErrSlotUnavailable))
	assert.False(t, errors.Is(err, ErrValidation))

	assert.True(t, errors.Is(Validationf("price %d", -1), ErrValidation))
	assert.True(t, errors.Is(TerminalError("expired"), ErrTerminal))
	assert.Contains(t, TerminalError("expired").Error(), "expired")
}

func TestPaymentErrorClassification(t *testing.T) {
	retry := &PaymentError{Op: "capture", Code: "processor_unavailable", Retryable: true}
	terminal := fmt.Errorf("settle: %w", &PaymentError{Op: "capture", Code: "card_declined"})

	assert.True(t, errors.Is(retry, ErrPayment))
	assert.True(t, errors.Is(terminal, ErrPayment))
	assert.True(t, IsRetryablePayment(retry))
	assert.False(t, IsRetryablePayment(terminal))
	assert.Contains(t, terminal.Error(), "card_declined")
}
