package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
)

type recordingPush struct {
	mu     sync.Mutex
	tokens []string
}

func (p *recordingPush) Send(_ context.Context, token, _, _ string, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, token)
	return nil
}

type recordingEmail struct {
	mu   sync.Mutex
	msgs []EmailMessage
	err  error
}

func (e *recordingEmail) Send(_ context.Context, msg EmailMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
	return e.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func testBooking() BookingInfo {
	return BookingInfo{
		ID:          uuid.New(),
		Number:      "BK-20260501-ABCDE",
		Status:      "pending_confirmation",
		PatientID:   uuid.New(),
		ProviderID:  uuid.New(),
		ServiceName: "Teeth cleaning",
		Start:       time.Date(2026, 5, 3, 15, 0, 0, 0, time.UTC),
		AmountCents: 10_000,
	}
}

func TestDispatcherNewRequestFansOut(t *testing.T) {
	b := testBooking()
	push := &recordingPush{}
	email := &recordingEmail{}
	pub := &recordingPublisher{}
	dir := NewStaticDirectory(
		Contact{UserID: b.ProviderID, Role: audit.RoleProvider, Name: "Dr. Lee", Email: "lee@example.com", DeviceTokens: []string{"tok-provider"}},
		Contact{UserID: b.PatientID, Role: audit.RolePatient, Name: "Sam", DeviceTokens: []string{"tok-patient"}},
	)

	d := NewDispatcher(Channels{Push: push, Email: email, Publisher: pub, Directory: dir}, nil, zerolog.Nop(), nil)
	d.NewRequest(context.Background(), b)
	d.Wait()

	assert.ElementsMatch(t, []string{"tok-provider", "tok-patient"}, push.tokens)
	require.Len(t, email.msgs, 1)
	assert.Equal(t, "lee@example.com", email.msgs[0].To)
	assert.Equal(t, string(EventNewRequest), email.msgs[0].Template)
	assert.ElementsMatch(t, []string{"booking.new_booking_request", "booking.booking_request_sent"}, pub.keys)
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	b := testBooking()
	email := &recordingEmail{err: errors.New("sendgrid down")}
	dir := NewStaticDirectory(Contact{UserID: b.PatientID, Role: audit.RolePatient, Email: "sam@example.com"})

	d := NewDispatcher(Channels{Email: email, Directory: dir}, nil, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Expired(ctx, b)
	cancel()
	d.Wait()

	require.Len(t, email.msgs, 1)
	assert.Equal(t, "Request Expired", email.msgs[0].Subject)
}

func TestDispatcherRescheduleTargetsCounterparty(t *testing.T) {
	b := testBooking()
	push := &recordingPush{}
	dir := NewStaticDirectory(
		Contact{UserID: b.ProviderID, Role: audit.RoleProvider, DeviceTokens: []string{"tok-provider"}},
		Contact{UserID: b.PatientID, Role: audit.RolePatient, DeviceTokens: []string{"tok-patient"}},
	)

	d := NewDispatcher(Channels{Push: push, Directory: dir}, nil, zerolog.Nop(), nil)
	d.RescheduleProposed(context.Background(), b, audit.RoleProvider)
	d.Wait()

	assert.Equal(t, []string{"tok-patient"}, push.tokens)
}

func TestDispatcherCloseDrainsAndDropsLateNotices(t *testing.T) {
	b := testBooking()
	pub := &recordingPublisher{}
	d := NewDispatcher(Channels{Publisher: pub}, nil, zerolog.Nop(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Confirmed(ctx, b)
		}()
	}
	d.Close()
	wg.Wait()
	d.Close()

	pub.mu.Lock()
	delivered := len(pub.keys)
	pub.mu.Unlock()

	d.Confirmed(ctx, b)
	d.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, delivered, len(pub.keys))
}

func TestRenderCancelledMentionsRefund(t *testing.T) {
	b := testBooking()
	b.RefundCents = 7_500
	title, body := render(EventCancelled, b)
	assert.Equal(t, "Booking Cancelled", title)
	assert.Contains(t, body, "$75.00")
}
