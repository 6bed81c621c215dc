package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/bridgeway/qualify/core/domain"
)

// PostgresBlocklistStore persists the two address-sorted append-logs behind
// the Blocklist Service's in-memory snapshot. The in-memory Service is
// authoritative during a run; this adapter is read at startup to seed it and
// written after each mutation to keep the log durable.
type PostgresBlocklistStore struct {
	db *sqlx.DB
}

// NewPostgresBlocklistStore builds a PostgresBlocklistStore.
func NewPostgresBlocklistStore(db *sqlx.DB) *PostgresBlocklistStore {
	return &PostgresBlocklistStore{db: db}
}

type blockedEmailRow struct {
	Email   string `db:"email"`
	Note    string `db:"note"`
	AddedAt int64  `db:"added_at"`
}

type blockedDomainRow struct {
	Domain  string `db:"domain"`
	Note    string `db:"note"`
	AddedAt int64  `db:"added_at"`
}

// LoadSnapshot reads the full persisted blocklist, sorted by key.
func (s *PostgresBlocklistStore) LoadSnapshot(ctx context.Context) (*domain.Blocklists, error) {
	snap := domain.NewBlocklists()

	var emails []blockedEmailRow
	if err := s.db.SelectContext(ctx, &emails, `SELECT email, note, added_at FROM blocked_emails ORDER BY email ASC`); err != nil {
		return nil, err
	}
	for _, e := range emails {
		snap.Emails[domain.Address(e.Email)] = domain.BlockEntry{Note: e.Note, AddedAt: e.AddedAt}
	}

	var domains []blockedDomainRow
	if err := s.db.SelectContext(ctx, &domains, `SELECT domain, note, added_at FROM blocked_domains ORDER BY domain ASC`); err != nil {
		return nil, err
	}
	for _, d := range domains {
		snap.Domains[d.Domain] = domain.BlockEntry{Note: d.Note, AddedAt: d.AddedAt}
	}

	return snap, nil
}

// PersistEmail appends or updates one blocked-email row.
func (s *PostgresBlocklistStore) PersistEmail(ctx context.Context, addr domain.Address, entry domain.BlockEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_emails (email, note, added_at) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET note = EXCLUDED.note, added_at = EXCLUDED.added_at
	`, addr, entry.Note, entry.AddedAt)
	return err
}

// RemoveEmail deletes one blocked-email row.
func (s *PostgresBlocklistStore) RemoveEmail(ctx context.Context, addr domain.Address) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocked_emails WHERE email = $1`, addr)
	return err
}

// PersistDomain appends or updates one blocked-domain row.
func (s *PostgresBlocklistStore) PersistDomain(ctx context.Context, d string, entry domain.BlockEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_domains (domain, note, added_at) VALUES ($1, $2, $3)
		ON CONFLICT (domain) DO UPDATE SET note = EXCLUDED.note, added_at = EXCLUDED.added_at
	`, d, entry.Note, entry.AddedAt)
	return err
}

// RemoveDomain deletes one blocked-domain row.
func (s *PostgresBlocklistStore) RemoveDomain(ctx context.Context, d string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocked_domains WHERE domain = $1`, d)
	return err
}
