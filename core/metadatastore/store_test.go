package metadatastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/resilience"
)

type fakePersistence struct {
	rows map[domain.Address]*domain.Metadata
	imported map[string]bool
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{rows: make(map[domain.Address]*domain.Metadata), imported: make(map[string]bool)}
}

func (f *fakePersistence) Get(ctx context.Context, addr domain.Address) (*domain.Metadata, error) {
	return f.rows[addr], nil
}

func (f *fakePersistence) Put(ctx context.Context, addr domain.Address, meta *domain.Metadata) error {
	f.rows[addr] = meta
	return nil
}

func (f *fakePersistence) BulkGet(ctx context.Context, addrs []domain.Address) (map[domain.Address]*domain.Metadata, error) {
	out := make(map[domain.Address]*domain.Metadata)
	for _, a := range addrs {
		if m, ok := f.rows[a]; ok {
			out[a] = m
		}
	}
	return out, nil
}

func (f *fakePersistence) Count(ctx context.Context) (int64, error) { return int64(len(f.rows)), nil }

func (f *fakePersistence) Stats(ctx context.Context) (Stats, error) {
	return Stats{Total: int64(len(f.rows))}, nil
}

func (f *fakePersistence) WasFileImported(ctx context.Context, hash string) (bool, error) {
	return f.imported[hash], nil
}

func (f *fakePersistence) MarkFileImported(ctx context.Context, hash, path string) error {
	f.imported[hash] = true
	return nil
}

func testBreaker() *resilience.Breaker {
	return resilience.New(resilience.Config{Name: "test"})
}

func TestPutThenGetRoundTrips(t *testing.T) {
	db := newFakePersistence()
	s := New(db, nil, testBreaker())

	err := s.Put(context.Background(), "alice@example.com", &domain.Metadata{CompanyName: "Acme"}, "file-1", 100)
	require.NoError(t, err)

	got, err := s.Get(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.CompanyName)
}

func TestPutMergeNewerWins(t *testing.T) {
	db := newFakePersistence()
	s := New(db, nil, testBreaker())

	require.NoError(t, s.Put(context.Background(), "alice@example.com", &domain.Metadata{CompanyName: "Old Co"}, "file-1", 100))
	require.NoError(t, s.Put(context.Background(), "alice@example.com", &domain.Metadata{CompanyName: "New Co"}, "file-2", 200))

	got, err := s.Get(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "New Co", got.CompanyName)
}

func TestPutMergeOlderDoesNotOverwrite(t *testing.T) {
	db := newFakePersistence()
	s := New(db, nil, testBreaker())

	require.NoError(t, s.Put(context.Background(), "alice@example.com", &domain.Metadata{CompanyName: "New Co"}, "file-2", 200))
	require.NoError(t, s.Put(context.Background(), "alice@example.com", &domain.Metadata{CompanyName: "Stale Co"}, "file-1", 100))

	got, err := s.Get(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "New Co", got.CompanyName)
}
