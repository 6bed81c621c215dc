package bootstrap

import (
	"context"
	"sync"

	"github.com/bridgeway/qualify/core/domain"
)

// memoryFileStore backs core/cache.FileStore when DATABASE_URL is unset, so
// a single-machine run without Postgres still gets file-level skip checks
// for the lifetime of the process (lost on restart, unlike the Postgres
// adapter).
type memoryFileStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryFileStore() *memoryFileStore {
	return &memoryFileStore{seen: make(map[string]bool)}
}

func (m *memoryFileStore) key(fp domain.FileFingerprint) string {
	return fp.Path + "|" + fp.ContentHash
}

func (m *memoryFileStore) WasProcessed(ctx context.Context, fp domain.FileFingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[m.key(fp)], nil
}

func (m *memoryFileStore) RecordProcessed(ctx context.Context, fp domain.FileFingerprint, summaryJSON []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[m.key(fp)] = true
	return nil
}

// memoryAddressSet backs core/cache.AddressSet when REDIS_URL is unset.
type memoryAddressSet struct {
	mu   sync.Mutex
	sets map[string]map[domain.Address]bool
}

func newMemoryAddressSet() *memoryAddressSet {
	return &memoryAddressSet{sets: make(map[string]map[domain.Address]bool)}
}

func (m *memoryAddressSet) Add(ctx context.Context, scopeKey string, addr domain.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[scopeKey] == nil {
		m.sets[scopeKey] = make(map[domain.Address]bool)
	}
	m.sets[scopeKey][addr] = true
	return nil
}

func (m *memoryAddressSet) Contains(ctx context.Context, scopeKey string, addr domain.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[scopeKey][addr], nil
}

func (m *memoryAddressSet) Size(ctx context.Context, scopeKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[scopeKey])), nil
}
