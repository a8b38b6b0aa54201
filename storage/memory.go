package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	reflow "github.com/joeycumines/go-reflow"
)

// MemoryStore keeps snapshots in process memory. Snapshots are deep-copied
// through a JSON round trip on both read and write so callers can never
// alias the stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

// GetState retrieves the snapshot for a token, or (nil, nil) if absent.
func (m *MemoryStore) GetState(_ context.Context, token string) (*reflow.Snapshot, error) {
	m.mu.RLock()
	data, ok := m.snaps[token]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var snap reflow.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("storage: corrupt snapshot for token %q: %w", token, err)
	}
	return &snap, nil
}

// SetState persists the snapshot for a token.
func (m *MemoryStore) SetState(_ context.Context, token string, snap *reflow.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage: encoding snapshot for token %q: %w", token, err)
	}
	m.mu.Lock()
	m.snaps[token] = data
	m.mu.Unlock()
	return nil
}

// DeleteState removes a token's snapshot; deleting an absent token is a
// no-op.
func (m *MemoryStore) DeleteState(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.snaps, token)
	m.mu.Unlock()
	return nil
}

// Close releases nothing; it exists to satisfy reflow.Store.
func (m *MemoryStore) Close() error { return nil }

var _ reflow.Store = (*MemoryStore)(nil)
