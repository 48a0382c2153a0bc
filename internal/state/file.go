package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists machine records as JSON files under a directory, one
// file per machine id. Writes are synced to disk before Save returns, since
// the record must survive a process-level interruption that can arrive
// immediately after submission.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the record and flushes it to disk
func (s *FileStore) Save(_ context.Context, m *MachineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal machine state: %w", err)
	}

	f, err := os.OpenFile(s.path(m.ID), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	// Flush before returning: the caller relies on the id being durable
	// before the first suspension point.
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	return nil
}

// Load reads the record for the given machine id
func (s *FileStore) Load(_ context.Context, id string) (*MachineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("machine %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var m MachineState
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal machine state: %w", err)
	}
	return &m, nil
}

// Delete removes the record for the given machine id
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// Close is a no-op for file-backed storage
func (s *FileStore) Close() error {
	return nil
}
