package databroker

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store validated against a Catalog. It backs
// local runs without a broker and the tests.
type MemoryStore struct {
	catalog *Catalog

	mu     sync.RWMutex
	values map[Path]Value
}

// NewMemoryStore creates a store seeded with the catalog's initial values
func NewMemoryStore(catalog *Catalog) (*MemoryStore, error) {
	initial, err := catalog.InitialValues()
	if err != nil {
		return nil, err
	}
	return &MemoryStore{catalog: catalog, values: initial}, nil
}

// Get returns the stored value for path
func (m *MemoryStore) Get(ctx context.Context, path Path) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[path]
	if !ok {
		return Value{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return v, nil
}

// Set validates value against the catalog and stores it
func (m *MemoryStore) Set(ctx context.Context, path Path, value Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.catalog.Validate(path, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[path] = value
	return nil
}
