package memory

import (
	"context"
	"sync"
)

// Repository persists AgentMemory per owner (the workbook ID). Writers race
// by design: the last Save wins.
//
//go:generate mockgen -package=plan -destination=../plan/mock_repository_test.go github.com/odvcencio/excella/pkg/memory Repository
type Repository interface {
	Load(ctx context.Context, ownerID string) (AgentMemory, error)
	Save(ctx context.Context, ownerID string, mem AgentMemory) error
}

// InMemoryRepository keeps memory in a map. Used for tests and the
// "memory" backend.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]AgentMemory
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{items: make(map[string]AgentMemory)}
}

// Load returns the stored memory or an empty one.
func (r *InMemoryRepository) Load(_ context.Context, ownerID string) (AgentMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[ownerID]
	if !ok {
		return Empty(), nil
	}
	return m.Clone(), nil
}

// Save replaces the stored memory.
func (r *InMemoryRepository) Save(_ context.Context, ownerID string, mem AgentMemory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[ownerID] = mem.Normalize().Clone()
	return nil
}
