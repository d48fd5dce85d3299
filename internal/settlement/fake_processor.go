package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

// FakeProcessor is an in-process processor for development and tests. Failures
// can be queued per operation; each queued error is returned once.
type FakeProcessor struct {
	mu       sync.Mutex
	failures map[string][]error
	calls    map[string]int
	results  map[string]any
}

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		results:  make(map[string]any),
	}
}

// FailNext queues err for the next call of op (authorize, capture, refund, void).
func (f *FakeProcessor) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Declined is a terminal card decline.
func Declined(op string) error {
	return &apperr.PaymentError{Op: op, Code: "card_declined"}
}

// Unavailable is a retryable processor outage.
func Unavailable(op string) error {
	return &apperr.PaymentError{Op: op, Code: "processor_unavailable", Retryable: true}
}

// Calls reports how many times op reached the processor.
func (f *FakeProcessor) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeProcessor) begin(op, key string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
	if queue := f.failures[op]; len(queue) > 0 {
		f.failures[op] = queue[1:]
		return nil, queue[0]
	}
	if prior, ok := f.results[key]; ok {
		return prior, nil
	}
	return nil, nil
}

func (f *FakeProcessor) remember(key string, v any) {
	f.mu.Lock()
	f.results[key] = v
	f.mu.Unlock()
}

func (f *FakeProcessor) Authorize(_ context.Context, req AuthorizeRequest) (Authorization, error) {
	prior, err := f.begin("authorize", req.IdempotencyKey)
	if err != nil {
		return Authorization{}, err
	}
	if a, ok := prior.(Authorization); ok {
		return a, nil
	}
	if req.AmountCents <= 0 {
		return Authorization{}, &apperr.PaymentError{Op: "authorize", Code: "invalid_amount"}
	}

	auth := Authorization{HoldID: "hold_" + uuid.NewString()}
	if req.Capture {
		auth.ChargeID = "ch_" + uuid.NewString()
	}
	f.remember(req.IdempotencyKey, auth)
	return auth, nil
}

func (f *FakeProcessor) Capture(_ context.Context, key, holdID string, amountCents int64) (Receipt, error) {
	prior, err := f.begin("capture", key)
	if err != nil {
		return Receipt{}, err
	}
	if r, ok := prior.(Receipt); ok {
		return r, nil
	}
	if holdID == "" {
		return Receipt{}, &apperr.PaymentError{Op: "capture", Code: "missing_hold", Err: fmt.Errorf("no hold id")}
	}
	r := Receipt{Reference: "ch_" + uuid.NewString(), AmountCents: amountCents}
	f.remember(key, r)
	return r, nil
}

func (f *FakeProcessor) Refund(_ context.Context, key, chargeID string, amountCents int64) (Receipt, error) {
	prior, err := f.begin("refund", key)
	if err != nil {
		return Receipt{}, err
	}
	if r, ok := prior.(Receipt); ok {
		return r, nil
	}
	if chargeID == "" {
		return Receipt{}, &apperr.PaymentError{Op: "refund", Code: "missing_charge", Err: fmt.Errorf("no charge id")}
	}
	r := Receipt{Reference: "re_" + uuid.NewString(), AmountCents: amountCents}
	f.remember(key, r)
	return r, nil
}

func (f *FakeProcessor) Void(_ context.Context, key, holdID string) error {
	if _, err := f.begin("void", key); err != nil {
		return err
	}
	f.remember(key, Receipt{Reference: holdID})
	return nil
}
