package blocklist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgeway/qualify/core/domain"
)

// fakePersistence is an in-memory stand-in for the Postgres-backed log, used
// to assert that mutations are mirrored through without depending on a real
// database.
type fakePersistence struct {
	emails  map[domain.Address]domain.BlockEntry
	domains map[string]domain.BlockEntry
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		emails:  make(map[domain.Address]domain.BlockEntry),
		domains: make(map[string]domain.BlockEntry),
	}
}

func (f *fakePersistence) PersistEmail(_ context.Context, addr domain.Address, entry domain.BlockEntry) error {
	f.emails[addr] = entry
	return nil
}

func (f *fakePersistence) RemoveEmail(_ context.Context, addr domain.Address) error {
	delete(f.emails, addr)
	return nil
}

func (f *fakePersistence) PersistDomain(_ context.Context, d string, entry domain.BlockEntry) error {
	f.domains[d] = entry
	return nil
}

func (f *fakePersistence) RemoveDomain(_ context.Context, d string) error {
	delete(f.domains, d)
	return nil
}

func TestAddAndContainsEmail(t *testing.T) {
	s := New(0, nil)
	require.NoError(t, s.AddEmail(context.Background(), "alice@example.com", "manual"))
	assert.True(t, s.ContainsEmail("alice@example.com"))
	assert.False(t, s.ContainsEmail("bob@example.com"))
}

func TestAddEmailDuplicateRejected(t *testing.T) {
	s := New(0, nil)
	require.NoError(t, s.AddEmail(context.Background(), "alice@example.com", "manual"))
	err := s.AddEmail(context.Background(), "alice@example.com", "manual")
	assert.Error(t, err)
}

func TestAddEmailDoesNotPromoteDomain(t *testing.T) {
	s := New(2, nil)
	require.NoError(t, s.AddEmail(context.Background(), "a@gmail.com", "manual"))
	require.NoError(t, s.AddEmail(context.Background(), "b@gmail.com", "manual"))
	assert.False(t, s.ContainsDomain("gmail.com"))
}

func TestAddEmailPersists(t *testing.T) {
	p := newFakePersistence()
	s := New(0, p)
	require.NoError(t, s.AddEmail(context.Background(), "alice@example.com", "manual"))
	_, ok := p.emails["alice@example.com"]
	assert.True(t, ok)

	require.NoError(t, s.RemoveEmail(context.Background(), "alice@example.com"))
	_, ok = p.emails["alice@example.com"]
	assert.False(t, ok)
}

func TestImportThenDomainPromotion(t *testing.T) {
	p := newFakePersistence()
	s := New(5, p)

	var rows []ImportRow
	for i := 0; i < 6; i++ {
		rows = append(rows, ImportRow{
			Email:  domain.Address(string(rune('a'+i)) + "@gmail.com"),
			Status: "hard bounce",
		})
	}
	rows = append(rows, ImportRow{Email: "someone@yahoo.com", Status: "unsubscribed"})

	added, err := s.ImportFromLog(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 7, added)

	stats := s.Stats()
	assert.Equal(t, 7, stats.EmailCount)
	assert.True(t, s.ContainsDomain("gmail.com"))
	assert.False(t, s.ContainsDomain("yahoo.com"))
	assert.Len(t, p.emails, 7)
	_, ok := p.domains["gmail.com"]
	assert.True(t, ok)
}

func TestUndoLastRestoresState(t *testing.T) {
	s := New(0, nil)
	require.NoError(t, s.AddEmail(context.Background(), "alice@example.com", "manual"))
	before := s.Stats()

	require.NoError(t, s.AddEmail(context.Background(), "bob@example.com", "manual"))
	require.NoError(t, s.UndoLast())

	after := s.Stats()
	assert.Equal(t, before.EmailCount, after.EmailCount)
	assert.False(t, s.ContainsEmail("bob@example.com"))
	assert.True(t, s.ContainsEmail("alice@example.com"))
}

func TestUndoLastEmptyHistoryErrors(t *testing.T) {
	s := New(0, nil)
	err := s.UndoLast()
	assert.Error(t, err)
}

func TestUndoLastRestoresBulkImport(t *testing.T) {
	s := New(5, nil)
	require.NoError(t, s.AddEmail(context.Background(), "alice@example.com", "manual"))
	before := s.Stats()

	rows := []ImportRow{
		{Email: "a@gmail.com", Status: "hard bounce"},
		{Email: "b@gmail.com", Status: "hard bounce"},
	}
	added, err := s.ImportFromLog(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	require.NoError(t, s.UndoLast())

	after := s.Stats()
	assert.Equal(t, before.EmailCount, after.EmailCount)
	assert.Equal(t, before.DomainCount, after.DomainCount)
	assert.False(t, s.ContainsEmail("a@gmail.com"))
	assert.True(t, s.ContainsEmail("alice@example.com"))
}

func TestRedoLastReappliesUndoneMutation(t *testing.T) {
	s := New(0, nil)
	require.NoError(t, s.AddEmail(context.Background(), "alice@example.com", "manual"))
	require.NoError(t, s.AddEmail(context.Background(), "bob@example.com", "manual"))
	require.NoError(t, s.UndoLast())
	assert.False(t, s.ContainsEmail("bob@example.com"))

	require.NoError(t, s.RedoLast())
	assert.True(t, s.ContainsEmail("bob@example.com"))
}

func TestRedoLastEmptyErrors(t *testing.T) {
	s := New(0, nil)
	err := s.RedoLast()
	assert.Error(t, err)
}

func TestRedoLastClearedByNewMutation(t *testing.T) {
	s := New(0, nil)
	require.NoError(t, s.AddEmail(context.Background(), "alice@example.com", "manual"))
	require.NoError(t, s.UndoLast())
	require.NoError(t, s.AddEmail(context.Background(), "carol@example.com", "manual"))

	err := s.RedoLast()
	assert.Error(t, err)
}
