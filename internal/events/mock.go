package events

import (
	"context"
	"sync"

	"github.com/Youmanvi/stockledger/internal/domain"
)

// MockPublisher records published events in memory for testing
type MockPublisher struct {
	mu     sync.Mutex
	events []*domain.ReservationEvent
	err    error
}

// NewMockPublisher creates a new mock publisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// FailWith makes every subsequent Publish return err
func (m *MockPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Publish records the event
func (m *MockPublisher) Publish(ctx context.Context, event *domain.ReservationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (m *MockPublisher) Events() []*domain.ReservationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ReservationEvent, len(m.events))
	copy(out, m.events)
	return out
}
