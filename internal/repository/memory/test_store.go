package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// TestStore serves test definitions from memory.
type TestStore struct {
	mu    sync.RWMutex
	tests map[uuid.UUID]*model.TestDefinition
	reads int
}

// NewTestStore returns a store holding tests.
func NewTestStore(tests ...*model.TestDefinition) *TestStore {
	s := &TestStore{tests: make(map[uuid.UUID]*model.TestDefinition, len(tests))}
	for _, t := range tests {
		s.Put(t)
	}
	return s
}

var _ repository.TestStore = (*TestStore)(nil)

// Put adds or replaces a test.
func (s *TestStore) Put(t *model.TestDefinition) {
	s.mu.Lock()
	s.tests[t.ID] = t
	s.mu.Unlock()
}

func (s *TestStore) GetTest(_ context.Context, testID uuid.UUID) (*model.TestDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	t, ok := s.tests[testID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

// Reads returns how many GetTest calls were served.
func (s *TestStore) Reads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads
}

// IntegrityEventStore collects audit events in memory.
type IntegrityEventStore struct {
	mu     sync.Mutex
	events []model.IntegrityEvent
}

var _ repository.IntegrityEventStore = (*IntegrityEventStore)(nil)

func (s *IntegrityEventStore) CopyEvents(_ context.Context, events []model.IntegrityEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return int64(len(events)), nil
}

func (s *IntegrityEventStore) InsertEvent(_ context.Context, e model.IntegrityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of everything stored.
func (s *IntegrityEventStore) Events() []model.IntegrityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.IntegrityEvent(nil), s.events...)
}
