package store

import (
	"context"
	"sync"

	"keymint/internal/license"
)

// MemoryStore is an in-memory Store implementation with the same
// compare-and-swap semantics as the SQLite store. It backs unit tests
// and local development without a database file.
type MemoryStore struct {
	mu      sync.RWMutex
	byKey   map[string]*license.License
	byOrder map[string]string // order_id -> license_key
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:   make(map[string]*license.License),
		byOrder: make(map[string]string),
	}
}

// Insert stores a new license, enforcing key and order uniqueness.
func (m *MemoryStore) Insert(ctx context.Context, lic *license.License) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byOrder[lic.OrderID]; exists {
		return ErrDuplicateOrder
	}
	if _, exists := m.byKey[lic.Key]; exists {
		return ErrDuplicateKey
	}

	m.byKey[lic.Key] = lic.Clone()
	m.byOrder[lic.OrderID] = lic.Key
	return nil
}

// GetByKey returns a copy of the license with the given key.
func (m *MemoryStore) GetByKey(ctx context.Context, key string) (*license.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	lic, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return lic.Clone(), nil
}

// GetByOrder returns a copy of the license issued for the given order.
func (m *MemoryStore) GetByOrder(ctx context.Context, orderID string) (*license.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byKey[key].Clone(), nil
}

// Update applies the caller's copy if its version still matches the
// stored one, then bumps the version on both.
func (m *MemoryStore) Update(ctx context.Context, lic *license.License) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.byKey[lic.Key]
	if !ok {
		return ErrNotFound
	}
	if current.Version != lic.Version {
		return ErrVersionConflict
	}

	stored := lic.Clone()
	stored.Version++
	m.byKey[lic.Key] = stored
	lic.Version++
	return nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
