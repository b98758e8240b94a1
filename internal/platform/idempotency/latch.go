// Package idempotency guards single-shot operations with a check-and-set
// latch. The payment verification gate reserves a session id synchronously
// before dispatching the remote call, so a second trigger during the same
// page life observes the pending reservation instead of issuing a duplicate.
package idempotency

import (
	"errors"
	"strings"
	"sync"
)

// Status represents the lifecycle state of a latched operation.
type Status string

const (
	// StatusPending indicates the operation has reserved the key but not settled.
	StatusPending Status = "pending"
	// StatusCompleted indicates the operation settled and recorded an outcome.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve a key.
type ReservationState int

const (
	// ReservationStateNew means the caller holds the latch and may proceed.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means the operation already settled; the
	// stored outcome should be replayed instead of re-invoking.
	ReservationStateCompleted
	// ReservationStatePending means an earlier trigger is still in flight.
	ReservationStatePending
)

// Record captures the settled outcome for a key.
type Record struct {
	Key     string
	Status  Status
	Outcome any
}

// Reservation encapsulates the result of reserving a key.
type Reservation struct {
	State  ReservationState
	Record Record
}

// ErrEmptyKey is returned when a caller reserves a blank key.
var ErrEmptyKey = errors.New("idempotency: key is required")

// Latch is an in-memory check-and-set store scoped to one page life. The
// reserve step is synchronous with respect to the triggering event, which is
// what makes double-mount double-invocation impossible.
type Latch struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewLatch constructs an empty latch.
func NewLatch() *Latch {
	return &Latch{records: make(map[string]Record)}
}

// Reserve claims the key. Only the first caller per key observes
// ReservationStateNew; everyone else sees the pending or completed record.
func (l *Latch) Reserve(key string) (Reservation, error) {
	id := strings.TrimSpace(key)
	if id == "" {
		return Reservation{}, ErrEmptyKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if record, ok := l.records[id]; ok {
		if record.Status == StatusCompleted {
			return Reservation{State: ReservationStateCompleted, Record: record}, nil
		}
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}

	record := Record{Key: id, Status: StatusPending}
	l.records[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

// Complete stores the settled outcome for the key.
func (l *Latch) Complete(key string, outcome any) error {
	id := strings.TrimSpace(key)
	if id == "" {
		return ErrEmptyKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[id] = Record{Key: id, Status: StatusCompleted, Outcome: outcome}
	return nil
}

// Release drops the reservation so a later trigger may retry. Used when the
// guarded call could not even be dispatched.
func (l *Latch) Release(key string) {
	id := strings.TrimSpace(key)
	if id == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, id)
}
