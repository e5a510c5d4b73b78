package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/flowstate/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// DefinitionStore and InstanceStore backed by maps. Insertion order is kept
// in separate slices for listing. Every read returns a deep copy, so a
// caller can never observe a partially applied transition.
type InMemoryStore struct {
	mu sync.RWMutex

	definitions map[string]*api.Definition
	defByName   map[string]string
	defOrder    []string

	instances map[string]*api.Instance
	instOrder []string
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		definitions: make(map[string]*api.Definition),
		defByName:   make(map[string]string),
		instances:   make(map[string]*api.Instance),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ DefinitionStore = (*InMemoryStore)(nil)

var _ InstanceStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveDefinition(ctx context.Context, def *api.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.defByName[def.Name]; ok {
		return ErrDuplicateName
	}
	if _, ok := s.definitions[def.ID]; ok {
		return ErrDuplicateID
	}

	s.definitions[def.ID] = def.Clone()
	s.defByName[def.Name] = def.ID
	s.defOrder = append(s.defOrder, def.ID)
	return nil
}

func (s *InMemoryStore) GetDefinition(ctx context.Context, id string) (*api.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[id]
	if !ok {
		return nil, ErrDefinitionNotFound
	}
	return def.Clone(), nil
}

func (s *InMemoryStore) GetDefinitionByName(ctx context.Context, name string) (*api.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.defByName[name]
	if !ok {
		return nil, ErrDefinitionNotFound
	}
	return s.definitions[id].Clone(), nil
}

func (s *InMemoryStore) ListDefinitions(ctx context.Context) ([]*api.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*api.Definition, 0, len(s.defOrder))
	for _, id := range s.defOrder {
		out = append(out, s.definitions[id].Clone())
	}
	return out, nil
}

func (s *InMemoryStore) CreateInstance(ctx context.Context, inst *api.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return ErrDuplicateID
	}

	s.instances[inst.ID] = inst.Clone()
	s.instOrder = append(s.instOrder, inst.ID)
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*api.Instance, 0, len(s.instOrder))
	for _, id := range s.instOrder {
		inst := s.instances[id]
		if !opts.Matches(inst) {
			continue
		}
		result = append(result, inst.Clone())
	}
	return result, nil
}

func (s *InMemoryStore) AppendTransition(ctx context.Context, id string, expectedVersion int, toState string, item api.HistoryItem) (*api.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	if inst.Version != expectedVersion {
		return nil, ErrVersionMismatch
	}

	// Build the new value first and swap it in, so the stored instance is
	// never seen half-updated.
	next := inst.Clone()
	next.CurrentStateID = toState
	next.History = append(next.History, item)
	next.Version = len(next.History)
	s.instances[id] = next

	return next.Clone(), nil
}
