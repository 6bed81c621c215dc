package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/bridgeway/qualify/core/cache"
	"github.com/bridgeway/qualify/core/domain"
)

// fakeFileStore is an in-memory cache.FileStore double keyed by
// (path, content_hash), mirroring the Postgres files table's uniqueness.
type fakeFileStore struct {
	mu    sync.Mutex
	seen  map[string]bool
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{seen: make(map[string]bool)}
}

func (f *fakeFileStore) key(fp domain.FileFingerprint) string {
	return fp.Path + "|" + fp.ContentHash
}

func (f *fakeFileStore) WasProcessed(ctx context.Context, fp domain.FileFingerprint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[f.key(fp)], nil
}

func (f *fakeFileStore) RecordProcessed(ctx context.Context, fp domain.FileFingerprint, summaryJSON []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[f.key(fp)] = true
	return nil
}

// fakeAddressSet is an in-memory cache.AddressSet double.
type fakeAddressSet struct {
	mu   sync.Mutex
	sets map[string]map[domain.Address]bool
}

func newFakeAddressSet() *fakeAddressSet {
	return &fakeAddressSet{sets: make(map[string]map[domain.Address]bool)}
}

func (a *fakeAddressSet) Add(ctx context.Context, scopeKey string, addr domain.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sets[scopeKey] == nil {
		a.sets[scopeKey] = make(map[domain.Address]bool)
	}
	a.sets[scopeKey][addr] = true
	return nil
}

func (a *fakeAddressSet) Contains(ctx context.Context, scopeKey string, addr domain.Address) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sets[scopeKey][addr], nil
}

func (a *fakeAddressSet) Size(ctx context.Context, scopeKey string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.sets[scopeKey])), nil
}

func newTestCache(t *testing.T, files *fakeFileStore) *cache.Cache {
	t.Helper()
	return cache.New(files, newFakeAddressSet(), "test-batch")
}
