package store

import (
	"context"
	"sync"
)

// MemoryStore keeps state in process memory. Transactions are serialized by
// a read-write mutex.
type MemoryStore struct {
	mu   sync.RWMutex
	snap *snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: newSnapshot()}
}

// Update runs fn in a read-write transaction.
func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTx(s.snap, true)
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// View runs fn in a read-only transaction.
func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(newTx(s.snap, false))
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
