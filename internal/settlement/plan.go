package settlement

// Plan is the money movement a transition owes. Steps run in field order and
// completed steps are zeroed so a retried plan never repeats them.
type Plan struct {
	Reason       string `json:"reason"`
	CaptureCents int64  `json:"capture_cents,omitempty"`
	VoidHold     bool   `json:"void_hold,omitempty"`
	RefundCents  int64  `json:"refund_cents,omitempty"`
	CreditCents  int64  `json:"credit_cents,omitempty"`
}

func (p Plan) IsZero() bool {
	return p.CaptureCents == 0 && !p.VoidHold && p.RefundCents == 0 && p.CreditCents == 0
}

// PlanCancellation keeps the quoted fee and returns the rest. On an open hold
// the fee is captured (the processor drops the remainder); otherwise the
// refund portion is refunded.
func PlanCancellation(p Payment, q Quote) Plan {
	plan := Plan{Reason: "cancellation"}
	if p.HoldOutstanding() {
		if q.FeeCents > 0 {
			plan.CaptureCents = q.FeeCents
		} else {
			plan.VoidHold = true
		}
		return plan
	}
	plan.RefundCents = q.RefundCents
	return plan
}

// PlanRelease returns everything: void an open hold or refund what remains.
func PlanRelease(p Payment, reason string) Plan {
	plan := Plan{Reason: reason}
	if p.HoldOutstanding() {
		plan.VoidHold = true
		return plan
	}
	plan.RefundCents = p.CapturedCents - p.RefundedCents
	return plan
}

// PlanProviderCancellation is a full release plus the goodwill credit.
func PlanProviderCancellation(p Payment, creditCents int64) Plan {
	plan := PlanRelease(p, "provider_cancellation")
	plan.CreditCents = creditCents
	return plan
}

// PlanCapture captures an open hold in full. Used at completion, and at
// confirmation when the hold's capture point says so.
func PlanCapture(p Payment, reason string) Plan {
	plan := Plan{Reason: reason}
	if p.HoldOutstanding() {
		plan.CaptureCents = p.OriginalCents
	}
	return plan
}

func PlanCompletion(p Payment) Plan { return PlanCapture(p, "completed") }

// PlanNoShow charges the full amount; a no-show forfeits the appointment.
func PlanNoShow(p Payment) Plan { return PlanCapture(p, "no_show") }

// PlanConfirmation captures at confirmation only for holds configured to.
func PlanConfirmation(p Payment) Plan {
	if h, ok := p.Terms.(Hold); ok && h.CapturePoint == CaptureOnConfirmation {
		return PlanCapture(p, "confirmed")
	}
	return Plan{Reason: "confirmed"}
}
