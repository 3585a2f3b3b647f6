package session

import (
	"context"
	"sync"
)

// MemoryRegistry keeps records in process. Used for local runs and tests.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]Record)}
}

func (r *MemoryRegistry) Register(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ConnectionID] = *rec
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, connectionID)
	return nil
}

func (r *MemoryRegistry) Refresh(context.Context, string) error { return nil }

// Get returns the record for connectionID, if any.
func (r *MemoryRegistry) Get(connectionID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[connectionID]
	return rec, ok
}

func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
