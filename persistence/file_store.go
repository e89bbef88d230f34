package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/weft-ai/weft/types"
)

// FileProjectStore is a file-based implementation of ProjectStore.
// Suitable for single-node production deployments. Each project is stored
// as one JSON file under <base_dir>/projects.
type FileProjectStore struct {
	baseDir string
	mu      sync.Mutex
	closed  bool
}

// NewFileProjectStore creates a new file-based project store
func NewFileProjectStore(config StoreConfig) (*FileProjectStore, error) {
	baseDir := filepath.Join(config.BaseDir, "projects")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create project store directory: %w", err)
	}
	return &FileProjectStore{baseDir: baseDir}, nil
}

// Close closes the store
func (s *FileProjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *FileProjectStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileProjectStore) projectPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID+".json")
}

// Save persists a snapshot, replacing any earlier one for the project
func (s *FileProjectStore) Save(ctx context.Context, state *types.ProjectState) error {
	if state == nil || state.ProjectID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project state: %w", err)
	}

	// Atomic write: write to a temp file then rename
	path := s.projectPath(state.ProjectID)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// Load retrieves the latest snapshot for a project
func (s *FileProjectStore) Load(ctx context.Context, projectID string) (*types.ProjectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.projectPath(projectID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var state types.ProjectState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project state: %w", err)
	}
	return &state, nil
}

// Delete removes a project's snapshot
func (s *FileProjectStore) Delete(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.projectPath(projectID))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// List returns the IDs of all stored projects
func (s *FileProjectStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

var _ ProjectStore = (*FileProjectStore)(nil)
