package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/odvcencio/excella/pkg/memory"
)

// MemoryRepository implements memory.Repository on the agent_memory table.
// Concurrent writers are not coordinated; the last Save wins.
type MemoryRepository struct {
	store *Store
}

var _ memory.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository wraps store.
func NewMemoryRepository(store *Store) *MemoryRepository {
	return &MemoryRepository{store: store}
}

// Load returns the stored memory. A missing row or unreadable JSON yields
// empty memory.
func (r *MemoryRepository) Load(ctx context.Context, ownerID string) (memory.AgentMemory, error) {
	if r.store == nil || r.store.db == nil {
		return memory.Empty(), ErrStoreClosed
	}
	var raw string
	err := r.store.db.QueryRowContext(ctx, `SELECT memory_json FROM agent_memory WHERE owner_id = ?`, ownerID).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return memory.Empty(), nil
		}
		return memory.Empty(), fmt.Errorf("load agent memory: %w", err)
	}
	mem, _ := memory.Decode([]byte(raw))
	return mem, nil
}

// Save upserts the memory for ownerID.
func (r *MemoryRepository) Save(ctx context.Context, ownerID string, mem memory.AgentMemory) error {
	if r.store == nil || r.store.db == nil {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mem = mem.Normalize()
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode agent memory: %w", err)
	}
	now := time.Now().UTC()
	if _, err := r.store.execWithRetry(`
		INSERT INTO agent_memory (owner_id, memory_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET memory_json = excluded.memory_json, updated_at = excluded.updated_at
	`, ownerID, string(data), now); err != nil {
		return fmt.Errorf("save agent memory: %w", err)
	}

	r.store.notify(newEvent(EventMemorySaved, "", ownerID, map[string]any{
		"actions": len(mem.RecentActions),
		"errors":  len(mem.RecentErrors),
		"notes":   len(mem.Notes),
	}))
	return nil
}
