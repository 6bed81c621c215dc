// Package cache implements the Processing Cache: file-level skip
// checks keyed by content hash, and O(1) cross-file address deduplication
// backed by Redis.
package cache

import (
	"context"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/apperr"
)

// FileStore is the Postgres-backed files(path, hash, size, mtime,
// summary_json) table.
type FileStore interface {
	WasProcessed(ctx context.Context, fp domain.FileFingerprint) (bool, error)
	RecordProcessed(ctx context.Context, fp domain.FileFingerprint, summaryJSON []byte) error
}

// AddressSet is the address-seen set (Redis-backed, or in-process when Redis
// is absent); it stores bare addresses per scope key. Scope (batch-local vs
// persistent) is controlled by the key the caller passes, not by this
// interface.
type AddressSet interface {
	Add(ctx context.Context, scopeKey string, addr domain.Address) error
	Contains(ctx context.Context, scopeKey string, addr domain.Address) (bool, error)
	Size(ctx context.Context, scopeKey string) (int64, error)
}

// Scope selects which address-seen set a Cache consults.
type Scope string

const (
	ScopeBatchLocal Scope = "batch_local"
	ScopePersistent Scope = "persistent"
)

// Cache coordinates file-level skip and address-level dedup.
type Cache struct {
	files FileStore
	addrs AddressSet

	batchKey string // unique per process_batch invocation
}

// New builds a Cache for one batch run. batchKey scopes the batch-local
// address set so concurrent runs never collide.
func New(files FileStore, addrs AddressSet, batchKey string) *Cache {
	return &Cache{files: files, addrs: addrs, batchKey: batchKey}
}

// WasProcessed answers the file-level skip check.
func (c *Cache) WasProcessed(ctx context.Context, fp domain.FileFingerprint) (bool, error) {
	ok, err := c.files.WasProcessed(ctx, fp)
	if err != nil {
		return false, apperr.CacheCorrupt("file fingerprint lookup failed", err)
	}
	return ok, nil
}

// RecordProcessed stores a successful file result.
func (c *Cache) RecordProcessed(ctx context.Context, fp domain.FileFingerprint, summaryJSON []byte) error {
	if err := c.files.RecordProcessed(ctx, fp, summaryJSON); err != nil {
		return apperr.CacheCorrupt("failed to record file fingerprint", err)
	}
	return nil
}

// Seen reports whether addr was already classified in the given scope.
func (c *Cache) Seen(ctx context.Context, scope Scope, addr domain.Address) (bool, error) {
	key := c.scopeKey(scope)
	ok, err := c.addrs.Contains(ctx, key, addr)
	if err != nil {
		return false, apperr.CacheCorrupt("address-seen lookup failed", err)
	}
	return ok, nil
}

// MarkSeen records addr as classified in the given scope. A write here is
// last-write-wins with respect to any earlier mark in the same scope,
// matching the cache's single-writer policy.
func (c *Cache) MarkSeen(ctx context.Context, scope Scope, addr domain.Address) error {
	key := c.scopeKey(scope)
	if err := c.addrs.Add(ctx, key, addr); err != nil {
		return apperr.CacheCorrupt("failed to mark address seen", err)
	}
	return nil
}

// Size returns the number of distinct addresses recorded in scope.
func (c *Cache) Size(ctx context.Context, scope Scope) (int64, error) {
	return c.addrs.Size(ctx, c.scopeKey(scope))
}

func (c *Cache) scopeKey(scope Scope) string {
	switch scope {
	case ScopeBatchLocal:
		return "qualify:seen:batch:" + c.batchKey
	default:
		return "qualify:seen:persistent"
	}
}
