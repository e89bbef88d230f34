package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/weft-ai/weft/types"
)

// MemoryProjectStore is an in-memory implementation of ProjectStore.
// Suitable for development and testing.
type MemoryProjectStore struct {
	mu       sync.RWMutex
	projects map[string]*types.ProjectState
	closed   bool
}

// NewMemoryProjectStore creates a new in-memory project store
func NewMemoryProjectStore() *MemoryProjectStore {
	return &MemoryProjectStore{
		projects: make(map[string]*types.ProjectState),
	}
}

// Close closes the store
func (s *MemoryProjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryProjectStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save persists a snapshot, replacing any earlier one for the project
func (s *MemoryProjectStore) Save(ctx context.Context, state *types.ProjectState) error {
	if state == nil || state.ProjectID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	// Deep copy so later caller mutations never leak into the store
	s.projects[state.ProjectID] = state.Clone()
	return nil
}

// Load retrieves the latest snapshot for a project
func (s *MemoryProjectStore) Load(ctx context.Context, projectID string) (*types.ProjectState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	state, ok := s.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// Delete removes a project's snapshot
func (s *MemoryProjectStore) Delete(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.projects[projectID]; !ok {
		return ErrNotFound
	}
	delete(s.projects, projectID)
	return nil
}

// List returns the IDs of all stored projects
func (s *MemoryProjectStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ ProjectStore = (*MemoryProjectStore)(nil)
