package store

import (
	"context"
	"sync"

	"github.com/hasirciogli/pro-auth/internal/models"
)

// MemoryStore keeps the marker in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	marker models.Marker
	set    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Put(ctx context.Context, marker models.Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marker = marker
	m.set = marker != ""
	return nil
}

func (m *MemoryStore) Get(ctx context.Context) (models.Marker, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marker, m.set, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marker = ""
	m.set = false
	return nil
}
