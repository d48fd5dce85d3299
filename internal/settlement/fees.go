package settlement

import "github.com/hackgods/booking-settlement-engine/internal/apperr"

const (
	PlatformFeeBasisPoints = 1000 // 10%
	PlatformFeeFlatCents   = 150
	PlatformFeeCapCents    = 3500

	ProcessorFeeBasisPoints = 290 // 2.9%
	ProcessorFeeFlatCents   = 30
	ProcessorFeeCapCents    = 3500

	MinPriceCents = 500
	MaxPriceCents = 5_000_000
)

// percentOf rounds half up.
func percentOf(amount, basisPoints int64) int64 {
	return (amount*basisPoints + 5000) / 10000
}

// PlatformFee is min(price * 10% + $1.50, $35.00).
func PlatformFee(priceCents int64) int64 {
	fee := percentOf(priceCents, PlatformFeeBasisPoints) + PlatformFeeFlatCents
	if fee > PlatformFeeCapCents {
		return PlatformFeeCapCents
	}
	return fee
}

// ProcessorFeeEstimate is display-only; the processor decides the real fee.
func ProcessorFeeEstimate(priceCents int64) int64 {
	fee := percentOf(priceCents, ProcessorFeeBasisPoints) + ProcessorFeeFlatCents
	if fee > ProcessorFeeCapCents {
		return ProcessorFeeCapCents
	}
	return fee
}

func Breakdown(priceCents int64) FeeBreakdown {
	platform := PlatformFee(priceCents)
	return FeeBreakdown{
		PercentBasisPoints:  PlatformFeeBasisPoints,
		FlatCents:           PlatformFeeFlatCents,
		CapCents:            PlatformFeeCapCents,
		PlatformFeeCents:    platform,
		ProcessorFeeCents:   ProcessorFeeEstimate(priceCents),
		ProviderPayoutCents: priceCents - platform,
	}
}

func ValidatePrice(priceCents int64) error {
	if priceCents <= 0 {
		return apperr.Validationf("price must be positive")
	}
	if priceCents < MinPriceCents {
		return apperr.Validationf("price must be at least %d cents", MinPriceCents)
	}
	if priceCents > MaxPriceCents {
		return apperr.Validationf("price must not exceed %d cents", MaxPriceCents)
	}
	return nil
}
