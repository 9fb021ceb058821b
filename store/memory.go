package store

import (
	"context"
	"sync"

	"github.com/flowline-dev/flowline/flow"
)

// MemoryStore is an in-memory Checkpointer for tests and hosts that do not
// need durability. Snapshots round-trip through their JSON form so the
// schema validation path is exercised the same way as for durable stores.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemoryStore creates an empty in-memory checkpointer.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.ExecutionID == "" {
		return flow.NewError(flow.ErrCodeStore, "snapshot needs an execution ID")
	}
	raw, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snaps[snap.ExecutionID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, executionID string) (*Snapshot, error) {
	s.mu.RLock()
	raw, ok := s.snaps[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, flow.NewErrorf(flow.ErrCodeStore, "snapshot not found: %s", executionID)
	}
	return DecodeSnapshot(raw)
}

func (s *MemoryStore) Delete(ctx context.Context, executionID string) error {
	s.mu.Lock()
	delete(s.snaps, executionID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// ExecutionIDs returns the IDs of all stored snapshots, in no particular
// order.
func (s *MemoryStore) ExecutionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	return ids
}
