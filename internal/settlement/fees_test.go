package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

func TestPlatformFee(t *testing.T) {
	cases := []struct {
		name  string
		price int64
		want  int64
	}{
		{"hundred dollars", 10_000, 1_150},
		{"ten dollars", 1_000, 250},
		{"capped", 50_000, 3_500},
		{"just under cap", 33_400, 3_490},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PlatformFee(tc.price))
		})
	}
}

func TestBreakdownPayout(t *testing.T) {
	b := Breakdown(10_000)
	assert.Equal(t, int64(1_150), b.PlatformFeeCents)
	assert.Equal(t, int64(8_850), b.ProviderPayoutCents)
	assert.Equal(t, int64(320), b.ProcessorFeeCents)
}

func TestValidatePrice(t *testing.T) {
	assert.NoError(t, ValidatePrice(MinPriceCents))
	assert.NoError(t, ValidatePrice(MaxPriceCents))
	assert.ErrorIs(t, ValidatePrice(0), apperr.ErrValidation)
	assert.ErrorIs(t, ValidatePrice(499), apperr.ErrValidation)
	assert.ErrorIs(t, ValidatePrice(MaxPriceCents+1), apperr.ErrValidation)
}
