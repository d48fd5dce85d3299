package booking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

const maxCandidates = 3

// ProposeReschedule offers the counterparty up to three alternative windows.
// Only one proposal may be outstanding, and a booking can be moved at most
// Reschedule.MaxAttempts times.
func (s *Service) ProposeReschedule(ctx context.Context, id uuid.UUID, actor audit.Actor, candidates []TimeWindow, message string) (*Booking, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.settings.Get(ctx, current.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("load provider settings: %w", err)
	}

	var proposal Proposal
	b, _, err := s.mutate(ctx, id, func(b *Booking, now time.Time) (bool, error) {
		role, err := b.roleOf(actor)
		if err != nil {
			return false, err
		}
		if role != audit.RolePatient && role != audit.RoleProvider {
			return false, apperr.ErrNotParty
		}
		if b.Status.Terminal() {
			return false, apperr.TerminalError(string(b.Status))
		}
		if b.Reschedule.Pending != nil {
			return false, apperr.ErrProposalPending
		}
		if b.Reschedule.Count >= b.Reschedule.MaxAttempts {
			return false, apperr.ErrRescheduleExhausted
		}

		windows, err := normalizeCandidates(candidates, b.Duration(), st, now)
		if err != nil {
			return false, err
		}

		respondBy := now.Add(st.RescheduleWindow)
		if b.Status == StatusPendingConfirmation {
			hold := b.Confirmation.ExpiresAt
			if respondBy.After(hold) {
				hold = respondBy
			}
			if _, err := s.reservations.Attach(ctx, b.ReservationID, b.ID, hold); err != nil {
				return false, err
			}
			if role == audit.RoleProvider {
				b.Confirmation.Response = ResponseRescheduled
				b.Confirmation.RespondedAt = &now
			}
		}

		proposal = Proposal{
			ID:         uuid.New(),
			ProposedBy: role,
			ProposerID: actor.UserID,
			Candidates: windows,
			Message:    message,
			ProposedAt: now,
			RespondBy:  respondBy,
		}
		p := proposal
		b.Reschedule.Pending = &p
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, b, audit.EventRescheduleProposed, actor, audit.SourceAPI, "", "", map[string]any{
		"proposal_id": proposal.ID,
		"candidates":  proposal.Candidates,
		"respond_by":  proposal.RespondBy,
	})
	s.notifier.RescheduleProposed(ctx, b.Info(), proposal.ProposedBy)
	return b, nil
}

func normalizeCandidates(in []TimeWindow, duration time.Duration, st Settings, now time.Time) ([]TimeWindow, error) {
	if len(in) == 0 || len(in) > maxCandidates {
		return nil, apperr.Validationf("between 1 and %d candidate times are required", maxCandidates)
	}
	out := make([]TimeWindow, 0, len(in))
	for _, w := range in {
		w.Start = w.Start.UTC()
		if w.End.IsZero() {
			w.End = w.Start.Add(duration)
		}
		w.End = w.End.UTC()
		if w.End.Sub(w.Start) != duration {
			return nil, apperr.Validationf("candidate %s must last %s", w.Start.Format(time.RFC3339), duration)
		}
		if err := checkAdvanceNotice(w.Start, st, now); err != nil {
			return nil, err
		}
		for _, seen := range out {
			if seen.Equal(w) {
				return nil, apperr.Validationf("duplicate candidate %s", w.Start.Format(time.RFC3339))
			}
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// resolve closes the pending proposal and files it in the history.
func resolve(b *Booking, response ProposalResponse, chosen *TimeWindow, now time.Time) Proposal {
	p := *b.Reschedule.Pending
	p.Response = response
	p.Chosen = chosen
	p.RespondedAt = &now
	b.Reschedule.History = append(b.Reschedule.History, p)
	b.Reschedule.Pending = nil
	return p
}

// RespondReschedule accepts or rejects the pending proposal. Accepting moves
// the slot to the chosen window (confirming a pending request on the way);
// rejecting cancels the booking, attributed to the proposer.
func (s *Service) RespondReschedule(ctx context.Context, id uuid.UUID, actor audit.Actor, accept bool, chosen *TimeWindow) (*Booking, error) {
	if !accept {
		return s.rejectReschedule(ctx, id, actor)
	}

	var (
		from      Status
		confirmed bool
		accepted  Proposal
	)
	b, changed, err := s.mutate(ctx, id, func(b *Booking, now time.Time) (bool, error) {
		role, err := b.roleOf(actor)
		if err != nil {
			return false, err
		}
		if b.Status.Terminal() {
			return false, apperr.TerminalError(string(b.Status))
		}
		p := b.Reschedule.Pending
		if p == nil {
			return false, apperr.ErrNoProposal
		}
		if role == p.ProposedBy {
			return false, apperr.ErrNotParty
		}
		if !now.Before(p.RespondBy) {
			return false, apperr.Expiredf("proposal expired at %s", p.RespondBy.Format(time.RFC3339))
		}

		window, err := pickCandidate(p, chosen)
		if err != nil {
			return false, err
		}
		if _, err := s.reservations.Move(ctx, b.ReservationID, window.Start, window.End, b.Buffer()); err != nil {
			return false, err
		}

		from = b.Status
		confirmed = false
		if b.Status == StatusPendingConfirmation {
			if _, err := s.reservations.Confirm(ctx, b.ReservationID); err != nil {
				return false, err
			}
			b.Status = StatusConfirmed
			b.Confirmation.RespondedAt = &now
			confirmed = true
			schedulePlan(b, settlement.PlanConfirmation(b.Payment), now)
		}
		b.confirmAt(window)
		b.Reschedule.Count++
		accepted = resolve(b, ProposalAccepted, &window, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return b, nil
	}

	s.record(ctx, b, audit.EventRescheduleAccepted, actor, audit.SourceAPI, "", "", map[string]any{
		"proposal_id": accepted.ID,
		"start":       accepted.Chosen.Start,
		"end":         accepted.Chosen.End,
	})
	if confirmed {
		s.metrics.ObserveTransition(string(from), string(StatusConfirmed))
		s.record(ctx, b, audit.EventConfirmed, actor, audit.SourceAPI, from, StatusConfirmed, nil)
		s.record(ctx, b, audit.EventSlotConverted, actor, audit.SourceAPI, "", "", nil)
		b = s.settle(ctx, b)
	}
	s.notifier.RescheduleAccepted(ctx, b.Info(), actor.Role)
	return b, nil
}

func pickCandidate(p *Proposal, chosen *TimeWindow) (TimeWindow, error) {
	if chosen == nil {
		if len(p.Candidates) == 1 {
			return p.Candidates[0], nil
		}
		return TimeWindow{}, apperr.Validationf("choose one of the proposed times")
	}
	for _, c := range p.Candidates {
		if c.Start.Equal(chosen.Start) && (chosen.End.IsZero() || c.End.Equal(chosen.End)) {
			return c, nil
		}
	}
	return TimeWindow{}, apperr.Validationf("chosen time was not proposed")
}

func (s *Service) rejectReschedule(ctx context.Context, id uuid.UUID, actor audit.Actor) (*Booking, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Reschedule.Pending == nil {
		if current.Status.Terminal() {
			return nil, apperr.TerminalError(string(current.Status))
		}
		return nil, apperr.ErrNoProposal
	}
	// the side turning the proposal down owns the cancellation
	rejector := counterpart(current.Reschedule.Pending.ProposedBy)
	proposalID := current.Reschedule.Pending.ID

	b, changed, err := s.transition(ctx, id, actor, audit.SourceAPI, cancelledBy(rejector), func(b *Booking, role audit.Role, now time.Time) (effects, error) {
		p := b.Reschedule.Pending
		if p == nil || p.ID != proposalID {
			return effects{}, apperr.Conflictf("proposal changed, reload and retry")
		}
		if role == p.ProposedBy {
			return effects{}, apperr.ErrNotParty
		}
		resolve(b, ProposalRejected, nil, now)
		b.Cancellation = &Cancellation{
			By:          rejector,
			ActorID:     actor.UserID,
			Reason:      "reschedule_rejected",
			At:          now,
			HoursBefore: b.Start().Sub(now).Hours(),
			RefundCents: b.Payment.Settleable(),
		}
		return effects{
			event:   audit.EventRescheduleRejected,
			also:    []audit.EventType{audit.EventCancelled},
			plan:    settlement.PlanRelease(b.Payment, "reschedule_rejected"),
			release: reservation.ReasonBookingCancelled,
			payload: map[string]any{"proposal_id": proposalID},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.Cancelled(ctx, b.Info(), rejector)
	}
	return b, nil
}

func counterpart(role audit.Role) audit.Role {
	if role == audit.RolePatient {
		return audit.RoleProvider
	}
	return audit.RolePatient
}

func cancelledBy(role audit.Role) Status {
	if role == audit.RolePatient {
		return StatusCancelledPatient
	}
	return StatusCancelledProvider
}

// ExpireProposals cancels bookings whose proposal went unanswered past its
// respond-by time. The cancellation is attributed to the side that did not
// respond, and the payment is released in full.
func (s *Service) ExpireProposals(ctx context.Context) (int, error) {
	due, err := s.repo.FindProposalsDue(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range due {
		if c.Reschedule.Pending == nil {
			continue
		}
		silent := counterpart(c.Reschedule.Pending.ProposedBy)
		proposalID := c.Reschedule.Pending.ID

		b, changed, err := s.transition(ctx, c.ID, audit.System(), audit.SourceCron, cancelledBy(silent), func(b *Booking, _ audit.Role, now time.Time) (effects, error) {
			p := b.Reschedule.Pending
			if p == nil || p.ID != proposalID || now.Before(p.RespondBy) {
				return effects{}, errNotDue
			}
			resolve(b, ProposalTimedOut, nil, now)
			b.Cancellation = &Cancellation{
				By:          silent,
				Reason:      "reschedule_unanswered",
				At:          now,
				HoursBefore: b.Start().Sub(now).Hours(),
				RefundCents: b.Payment.Settleable(),
			}
			return effects{
				event:   audit.EventRescheduleExpired,
				also:    []audit.EventType{audit.EventCancelled},
				plan:    settlement.PlanRelease(b.Payment, "reschedule_unanswered"),
				release: reservation.ReasonBookingCancelled,
				payload: map[string]any{"proposal_id": proposalID},
			}, nil
		})
		if err != nil {
			if !skippable(err) {
				s.sweepFailed("reschedule_expiry", c.ID, err)
			}
			continue
		}
		if !changed {
			continue
		}
		s.notifier.Cancelled(ctx, b.Info(), silent)
		s.metrics.ObserveSwept("reschedule_expiry", "cancelled")
		expired++
	}
	return expired, nil
}
