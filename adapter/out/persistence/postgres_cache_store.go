// Package persistence provides Postgres adapters implementing the core
// ports: Processing Cache's file table, the Blocklist Service's persisted
// logs, and the Metadata Store's merged-record table.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bridgeway/qualify/core/domain"
)

// PostgresCacheStore implements core/cache.FileStore against the
// files(path, hash, size, mtime, summary_json) table.
type PostgresCacheStore struct {
	db *sqlx.DB
}

// NewPostgresCacheStore builds a PostgresCacheStore.
func NewPostgresCacheStore(db *sqlx.DB) *PostgresCacheStore {
	return &PostgresCacheStore{db: db}
}

type fileRow struct {
	Path        string    `db:"path"`
	Hash        string    `db:"hash"`
	Size        int64     `db:"size"`
	MTime       time.Time `db:"mtime"`
	RowCount    int       `db:"row_count"`
	EmittedRows int       `db:"emitted_row_count"`
	SummaryJSON []byte    `db:"summary_json"`
}

// WasProcessed reports whether (path, hash) was previously recorded.
func (s *PostgresCacheStore) WasProcessed(ctx context.Context, fp domain.FileFingerprint) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT count(*) FROM files WHERE path = $1 AND hash = $2`, fp.Path, fp.ContentHash)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordProcessed upserts the file's fingerprint and summary.
func (s *PostgresCacheStore) RecordProcessed(ctx context.Context, fp domain.FileFingerprint, summaryJSON []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, hash, size, mtime, row_count, emitted_row_count, summary_json)
		VALUES ($1, $2, $3, to_timestamp($4), $5, $6, $7)
		ON CONFLICT (path) DO UPDATE SET
			hash = EXCLUDED.hash,
			size = EXCLUDED.size,
			mtime = EXCLUDED.mtime,
			row_count = EXCLUDED.row_count,
			emitted_row_count = EXCLUDED.emitted_row_count,
			summary_json = EXCLUDED.summary_json
	`, fp.Path, fp.ContentHash, fp.Size, fp.ModTime, fp.RowCount, fp.EmittedRowCount, summaryJSON)
	return err
}

// PostgresAddressLog implements the addresses(address, classification,
// source_hash, processed_at) table, used as the persistent-scope
// mirror alongside the Redis seen-set.
type PostgresAddressLog struct {
	db *sqlx.DB
}

// NewPostgresAddressLog builds a PostgresAddressLog.
func NewPostgresAddressLog(db *sqlx.DB) *PostgresAddressLog {
	return &PostgresAddressLog{db: db}
}

// Record upserts one address's prior outcome.
func (l *PostgresAddressLog) Record(ctx context.Context, o domain.PriorAddressOutcome) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO addresses (address, classification, source_hash, processed_at)
		VALUES ($1, $2, $3, to_timestamp($4))
		ON CONFLICT (address) DO UPDATE SET
			classification = EXCLUDED.classification,
			source_hash = EXCLUDED.source_hash,
			processed_at = EXCLUDED.processed_at
	`, o.Address, o.Classification, o.SourceFingerprint, o.ProcessedAt)
	return err
}

// Get returns the recorded outcome for an address, if any.
func (l *PostgresAddressLog) Get(ctx context.Context, addr domain.Address) (*domain.PriorAddressOutcome, error) {
	var row struct {
		Address        string    `db:"address"`
		Classification string    `db:"classification"`
		SourceHash     string    `db:"source_hash"`
		ProcessedAt    time.Time `db:"processed_at"`
	}
	err := l.db.GetContext(ctx, &row,
		`SELECT address, classification, source_hash, processed_at FROM addresses WHERE address = $1`, addr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.PriorAddressOutcome{
		Address:           domain.Address(row.Address),
		Classification:    domain.Classification(row.Classification),
		SourceFingerprint: row.SourceHash,
		ProcessedAt:       row.ProcessedAt.Unix(),
	}, nil
}
