package persistence

import (
	"context"
	"slices"
	"sync"

	"github.com/petrijr/flowstate/pkg/api"
)

// EventStore is an append-only audit store for engine events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.Event) error
	ListEvents(ctx context.Context, instanceID string) ([]api.Event, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.Event) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	return nil, nil
}

// InMemoryEventStore keeps events per instance in memory.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.Event
}

var _ EventStore = (*InMemoryEventStore)(nil)

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string][]api.Event)}
}

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[instanceID]), nil
}
