// Package metering tracks what the keeper actually did: executions
// triggered, rewards earned, cancellations issued, denials observed.
// Totals feed the operator status endpoint.
package metering

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNegativeQuantity is returned when an event has a negative quantity.
	ErrNegativeQuantity = errors.New("metering: quantity must not be negative")
	// ErrInvalidEventType is returned when the event type is empty.
	ErrInvalidEventType = errors.New("metering: event_type must not be empty")
)

// EventType defines the type of metered event.
type EventType string

const (
	EventExecution    EventType = "execution"
	EventReward       EventType = "reward"
	EventCancellation EventType = "cancellation"
	EventDenied       EventType = "denied"
	EventFailed       EventType = "failed"
	EventCycle        EventType = "cycle"
)

// Event represents a single metered usage event.
type Event struct {
	EventType EventType      `json:"event_type"`
	Quantity  int64          `json:"quantity"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks that the event has valid fields.
func (e Event) Validate() error {
	if e.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if e.EventType == "" {
		return ErrInvalidEventType
	}
	return nil
}

// Meter is the interface for recording and querying keeper usage.
type Meter interface {
	// Record stores a usage event.
	Record(ctx context.Context, event Event) error

	// Totals returns cumulative quantities per event type since start.
	Totals(ctx context.Context) (map[EventType]int64, error)
}

// MemoryMeter is an in-memory Meter for a single keeper process.
type MemoryMeter struct {
	mu     sync.RWMutex
	totals map[EventType]int64
}

// NewMemoryMeter creates an empty meter.
func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{totals: make(map[EventType]int64)}
}

func (m *MemoryMeter) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[event.EventType] += event.Quantity
	return nil
}

func (m *MemoryMeter) Totals(ctx context.Context) (map[EventType]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[EventType]int64, len(m.totals))
	for k, v := range m.totals {
		out[k] = v
	}
	return out, nil
}
