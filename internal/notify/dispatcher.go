package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/metrics"
)

const deliveryTimeout = 15 * time.Second

var errDispatcherClosed = errors.New("dispatcher closed")

type Channels struct {
	Push      PushSender
	Email     EmailSender
	Realtime  *Registry
	Publisher Publisher
	Directory Directory
}

// Dispatcher fans lifecycle notices out to every channel in the background.
// Delivery failures are logged and counted; callers never see them.
type Dispatcher struct {
	ch      Channels
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(ch Channels, clk clock.Clock, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if ch.Publisher == nil {
		ch.Publisher = NoopPublisher{}
	}
	if ch.Directory == nil {
		ch.Directory = NewStaticDirectory()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dispatcher{ch: ch, clock: clk, logger: logger, metrics: m}
}

func (d *Dispatcher) NewRequest(ctx context.Context, b BookingInfo) {
	d.dispatch(ctx, EventNewRequest, b, b.party(audit.RoleProvider))
	d.dispatch(ctx, EventRequestSent, b, b.party(audit.RolePatient))
}

// Confirmed tells both parties.
func (d *Dispatcher) Confirmed(ctx context.Context, b BookingInfo) {
	d.dispatch(ctx, EventConfirmed, b, b.party(audit.RolePatient), b.party(audit.RoleProvider))
}

func (d *Dispatcher) Declined(ctx context.Context, b BookingInfo) {
	d.dispatch(ctx, EventDeclined, b, b.party(audit.RolePatient))
}

func (d *Dispatcher) RescheduleProposed(ctx context.Context, b BookingInfo, proposer audit.Role) {
	d.dispatch(ctx, EventRescheduleProposed, b, b.party(counterparty(proposer)))
}

func (d *Dispatcher) RescheduleAccepted(ctx context.Context, b BookingInfo, responder audit.Role) {
	d.dispatch(ctx, EventRescheduleAccepted, b, b.party(counterparty(responder)), b.party(responder))
}

func (d *Dispatcher) ExpiringSoon(ctx context.Context, b BookingInfo) {
	d.dispatch(ctx, EventExpiringSoon, b, b.party(audit.RoleProvider))
}

func (d *Dispatcher) Reminder(ctx context.Context, b BookingInfo) {
	d.dispatch(ctx, EventReminder, b, b.party(audit.RoleProvider))
}

// Cancelled tells both parties; by is recorded in the payload.
func (d *Dispatcher) Cancelled(ctx context.Context, b BookingInfo, by audit.Role) {
	if b.Reason == "" {
		b.Reason = string(by)
	}
	d.dispatch(ctx, EventCancelled, b, b.party(audit.RolePatient), b.party(audit.RoleProvider))
}

func (d *Dispatcher) Expired(ctx context.Context, b BookingInfo) {
	d.dispatch(ctx, EventExpired, b, b.party(audit.RolePatient))
}

func (d *Dispatcher) Completed(ctx context.Context, b BookingInfo) {
	d.dispatch(ctx, EventCompleted, b, b.party(audit.RolePatient))
}

func (d *Dispatcher) PaymentActionRequired(ctx context.Context, b BookingInfo) {
	d.dispatch(ctx, EventPaymentActionRequired, b, b.party(audit.RolePatient))
}

// Wait blocks until in-flight deliveries finish. Callers must not dispatch
// concurrently; shutdown goes through Close.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting notices and waits for the in-flight ones. Notices
// dispatched after Close are dropped and counted.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event, b BookingInfo, recipients ...Recipient) {
	now := d.clock.Now()
	title, body := render(ev, b)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.observe("dispatcher", ev, errDispatcherClosed)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		defer cancel()

		for _, r := range recipients {
			n := Notice{
				Event:         ev,
				Type:          realtimeTypes[ev],
				BookingID:     b.ID,
				BookingNumber: b.Number,
				Status:        b.Status,
				Recipient:     r,
				Title:         title,
				Body:          body,
				Data:          noticeData(b),
				OccurredAt:    now,
			}
			d.deliver(ctx, n)
		}

		err := d.ch.Publisher.Publish(ctx, "booking."+string(ev), map[string]any{
			"event":          ev,
			"booking_id":     b.ID,
			"booking_number": b.Number,
			"status":         b.Status,
			"patient_id":     b.PatientID,
			"provider_id":    b.ProviderID,
			"occurred_at":    now,
		})
		d.observe("broker", ev, err)
	}()
}

func noticeData(b BookingInfo) map[string]any {
	data := map[string]any{"start": b.Start}
	if b.ExpiresAt != nil {
		data["expires_at"] = *b.ExpiresAt
	}
	if b.RefundCents > 0 {
		data["refund_cents"] = b.RefundCents
	}
	if b.Reason != "" {
		data["reason"] = b.Reason
	}
	return data
}

func (d *Dispatcher) deliver(ctx context.Context, n Notice) {
	if d.ch.Realtime != nil {
		d.ch.Realtime.Publish(n.Recipient.UserID, n.Recipient.Role, n)
		d.observe("realtime", n.Event, nil)
	}

	contact, err := d.ch.Directory.Lookup(ctx, n.Recipient.Role, n.Recipient.UserID)
	if err != nil {
		if !errors.Is(err, ErrContactNotFound) {
			d.observe("directory", n.Event, err)
		}
		return
	}

	if d.ch.Push != nil {
		for _, token := range contact.DeviceTokens {
			err := d.ch.Push.Send(ctx, token, n.Title, n.Body, map[string]string{
				"type":       n.Type,
				"booking_id": n.BookingID.String(),
			})
			d.observe("push", n.Event, err)
		}
	}

	if d.ch.Email != nil && contact.Email != "" {
		err := d.ch.Email.Send(ctx, EmailMessage{
			Template: string(n.Event),
			To:       contact.Email,
			ToName:   contact.Name,
			Subject:  n.Title,
			Body:     n.Body,
		})
		d.observe("email", n.Event, err)
	}
}

func (d *Dispatcher) observe(channel string, ev Event, err error) {
	d.metrics.ObserveNotification(channel, string(ev), err)
	if err != nil {
		d.logger.Warn().Err(err).Str("channel", channel).Str("event", string(ev)).Msg("notification delivery failed")
	}
}
