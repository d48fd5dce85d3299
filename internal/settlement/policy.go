package settlement

import (
	"sort"
	"time"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

// Tier applies FeePercent when the cancellation happens at least MinHours
// before the appointment.
type Tier struct {
	MinHours   float64 `json:"min_hours"`
	FeePercent int64   `json:"fee_percent"`
}

type Policy struct {
	Tiers          []Tier `json:"tiers"`
	PastFeePercent int64  `json:"past_fee_percent"`
}

func DefaultPolicy() Policy {
	return Policy{
		Tiers: []Tier{
			{MinHours: 24, FeePercent: 0},
			{MinHours: 12, FeePercent: 25},
			{MinHours: 0, FeePercent: 50},
		},
		PastFeePercent: 100,
	}
}

func (p Policy) Validate() error {
	if len(p.Tiers) == 0 {
		return apperr.Validationf("cancellation policy needs at least one tier")
	}
	for _, t := range p.Tiers {
		if t.FeePercent < 0 || t.FeePercent > 100 {
			return apperr.Validationf("tier fee percent %d out of range", t.FeePercent)
		}
		if t.MinHours < 0 {
			return apperr.Validationf("tier min hours must not be negative")
		}
	}
	if p.PastFeePercent < 0 || p.PastFeePercent > 100 {
		return apperr.Validationf("past fee percent %d out of range", p.PastFeePercent)
	}
	return nil
}

type Quote struct {
	HoursBefore float64 `json:"hours_before"`
	FeePercent  int64   `json:"fee_percent"`
	FeeCents    int64   `json:"fee_cents"`
	RefundCents int64   `json:"refund_cents"`
	Past        bool    `json:"past"`
}

// CancellationFee splits amount into fee and refund for a cancellation at now
// of an appointment starting at appointment. It has no side effects.
func CancellationFee(p Policy, appointment, now time.Time, amount int64) Quote {
	hours := appointment.Sub(now).Hours()
	q := Quote{HoursBefore: hours}

	if hours <= 0 {
		q.Past = true
		q.FeePercent = p.PastFeePercent
	} else {
		tiers := append([]Tier(nil), p.Tiers...)
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinHours > tiers[j].MinHours })
		q.FeePercent = 100
		for _, t := range tiers {
			if hours >= t.MinHours {
				q.FeePercent = t.FeePercent
				break
			}
		}
	}

	q.FeeCents = (amount*q.FeePercent + 50) / 100
	q.RefundCents = amount - q.FeeCents
	return q
}
