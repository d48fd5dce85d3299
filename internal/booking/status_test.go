package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []Status{
	StatusPendingConfirmation,
	StatusConfirmed,
	StatusCompleted,
	StatusCancelledPatient,
	StatusCancelledProvider,
	StatusExpired,
	StatusNoShow,
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, from := range allStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range allStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingConfirmation, StatusConfirmed, true},
		{StatusPendingConfirmation, StatusExpired, true},
		{StatusPendingConfirmation, StatusCompleted, false},
		{StatusPendingConfirmation, StatusNoShow, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusExpired, false},
		{StatusConfirmed, StatusPendingConfirmation, false},
		{StatusConfirmed, StatusConfirmed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestEveryStatusIsValid(t *testing.T) {
	for _, s := range allStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("archived").Valid())
}

func TestBookingNumberFormat(t *testing.T) {
	day := time.Date(2026, 12, 3, 23, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		n := NewNumber(day)
		assert.Regexp(t, `^BK-20261203-[ABCDEFGHJKMNPQRSTUVWXYZ23456789]{5}$`, n)
		seen[n] = true
	}
	assert.Greater(t, len(seen), 190)
}
