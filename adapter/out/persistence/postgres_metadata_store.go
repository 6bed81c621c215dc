package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/core/metadatastore"
)

// PostgresMetadataStore implements metadatastore.Persistence against a
// single address-keyed table holding the full merged record as JSONB plus
// per-field provenance.
type PostgresMetadataStore struct {
	db *sqlx.DB
}

// NewPostgresMetadataStore builds a PostgresMetadataStore.
func NewPostgresMetadataStore(db *sqlx.DB) *PostgresMetadataStore {
	return &PostgresMetadataStore{db: db}
}

type metadataRow struct {
	Address string `db:"address"`
	Data    []byte `db:"data"`
}

// Get returns the stored metadata for an address, or nil if unknown.
func (s *PostgresMetadataStore) Get(ctx context.Context, addr domain.Address) (*domain.Metadata, error) {
	var row metadataRow
	err := s.db.GetContext(ctx, &row, `SELECT address, data FROM metadata WHERE address = $1`, addr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m domain.Metadata
	if err := json.Unmarshal(row.Data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Put upserts the full merged metadata record.
func (s *PostgresMetadataStore) Put(ctx context.Context, addr domain.Address, meta *domain.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metadata (address, data) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET data = EXCLUDED.data
	`, addr, data)
	return err
}

// BulkGet fetches metadata for many addresses at once.
func (s *PostgresMetadataStore) BulkGet(ctx context.Context, addrs []domain.Address) (map[domain.Address]*domain.Metadata, error) {
	out := make(map[domain.Address]*domain.Metadata, len(addrs))
	if len(addrs) == 0 {
		return out, nil
	}

	strs := make([]string, len(addrs))
	for i, a := range addrs {
		strs[i] = string(a)
	}

	query, args, err := sqlx.In(`SELECT address, data FROM metadata WHERE address IN (?)`, strs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row metadataRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		var m domain.Metadata
		if err := json.Unmarshal(row.Data, &m); err != nil {
			return nil, err
		}
		out[domain.Address(row.Address)] = &m
	}
	return out, rows.Err()
}

// Count returns the total number of stored addresses.
func (s *PostgresMetadataStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM metadata`)
	return n, err
}

// Stats returns totals plus per-country/per-category frequency, derived
// from the JSONB payload's recognized fields.
func (s *PostgresMetadataStore) Stats(ctx context.Context) (metadatastore.Stats, error) {
	stats := metadatastore.Stats{ByCountry: map[string]int64{}, ByCategory: map[string]int64{}}

	if err := s.db.GetContext(ctx, &stats.Total, `SELECT count(*) FROM metadata`); err != nil {
		return stats, err
	}

	type bucket struct {
		Key   string `db:"key"`
		Count int64  `db:"count"`
	}

	var byCountry []bucket
	if err := s.db.SelectContext(ctx, &byCountry, `
		SELECT data->>'country' AS key, count(*) AS count
		FROM metadata WHERE data->>'country' <> '' GROUP BY 1
	`); err != nil {
		return stats, err
	}
	for _, b := range byCountry {
		stats.ByCountry[b.Key] = b.Count
	}

	var byCategory []bucket
	if err := s.db.SelectContext(ctx, &byCategory, `
		SELECT data->>'category' AS key, count(*) AS count
		FROM metadata WHERE data->>'category' <> '' GROUP BY 1
	`); err != nil {
		return stats, err
	}
	for _, b := range byCategory {
		stats.ByCategory[b.Key] = b.Count
	}

	return stats, nil
}

// WasFileImported reports whether a source file's content hash was already
// merged, so re-importing an identical file is a no-op.
func (s *PostgresMetadataStore) WasFileImported(ctx context.Context, contentHash string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM metadata_sources WHERE content_hash = $1`, contentHash)
	return count > 0, err
}

// MarkFileImported records a source file as merged.
func (s *PostgresMetadataStore) MarkFileImported(ctx context.Context, contentHash, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata_sources (content_hash, path) VALUES ($1, $2)
		ON CONFLICT (content_hash) DO NOTHING
	`, contentHash, path)
	return err
}
