package settlement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryLedger struct {
	mu  sync.Mutex
	ops map[string]*Operation
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{ops: make(map[string]*Operation)}
}

func (l *MemoryLedger) Begin(_ context.Context, op Operation, now time.Time, lease time.Duration) (Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.ops[op.Key]; ok {
		if existing.Status == OpPending && existing.UpdatedAt.After(now.Add(-lease)) {
			return Operation{}, ErrOperationInFlight
		}
		if existing.Status != OpSucceeded {
			existing.Attempts++
			existing.Status = OpPending
			existing.UpdatedAt = now
		}
		return *existing, nil
	}

	op.Status = OpPending
	op.Attempts = 1
	op.CreatedAt = now
	op.UpdatedAt = now
	l.ops[op.Key] = &op
	return op, nil
}

func (l *MemoryLedger) Finish(_ context.Context, key string, status OpStatus, reference, errMsg string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	op, ok := l.ops[key]
	if !ok || op.Status == OpSucceeded {
		return nil
	}
	op.Status = status
	op.Reference = reference
	op.LastError = errMsg
	op.UpdatedAt = now
	return nil
}

func (l *MemoryLedger) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result []Operation
	for _, op := range l.ops {
		if op.BookingID == bookingID {
			result = append(result, *op)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
