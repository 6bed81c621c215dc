// Package metadatastore implements the Metadata Store: an
// address-keyed persistent store with field-by-field, provenance-ordered
// merging. Postgres is the source of truth; Neo4j, when configured, is an
// additive relations index that accelerates search_by.
package metadatastore

import (
	"context"
	"sync"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/apperr"
	"github.com/bridgeway/qualify/pkg/resilience"
)

// Persistence is the Postgres-backed port the store writes through. It holds
// the full merged record and is the only source consulted for correctness.
type Persistence interface {
	Get(ctx context.Context, addr domain.Address) (*domain.Metadata, error)
	Put(ctx context.Context, addr domain.Address, meta *domain.Metadata) error
	BulkGet(ctx context.Context, addrs []domain.Address) (map[domain.Address]*domain.Metadata, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	WasFileImported(ctx context.Context, contentHash string) (bool, error)
	MarkFileImported(ctx context.Context, contentHash, path string) error
}

// SearchFilter is the input to search_by.
type SearchFilter struct {
	Company string
	Country string
	Category string
	Domain  string
}

// GraphIndex is the optional Neo4j-backed relations port. With a nil
// GraphIndex, search_by returns a NOT_FOUND error; Postgres is not scanned.
type GraphIndex interface {
	Upsert(ctx context.Context, addr domain.Address, meta *domain.Metadata) error
	SearchBy(ctx context.Context, filter SearchFilter) ([]domain.Address, error)
}

// Stats is the aggregate view returned by stats().
type Stats struct {
	Total        int64
	ByCountry    map[string]int64
	ByCategory   map[string]int64
}

// Store coordinates the Postgres persistence layer, the optional Neo4j
// index, and the merge-by-provenance policy in front of both.
type Store struct {
	db      Persistence
	graph   GraphIndex // nil if Neo4j is unconfigured
	breaker *resilience.Breaker

	mu sync.RWMutex // serializes all writers; reads share the read lock
}

// New builds a Store. graph may be nil.
func New(db Persistence, graph GraphIndex, breaker *resilience.Breaker) *Store {
	return &Store{db: db, graph: graph, breaker: breaker}
}

// Get returns the merged metadata for an address, or nil if unknown.
func (s *Store) Get(ctx context.Context, addr domain.Address) (*domain.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out *domain.Metadata
	err := s.breaker.Do(ctx, "metadata_get", func(ctx context.Context) error {
		m, err := s.db.Get(ctx, addr)
		out = m
		return err
	})
	return out, err
}

// BulkGet fetches metadata for many addresses at once.
func (s *Store) BulkGet(ctx context.Context, addrs []domain.Address) (map[domain.Address]*domain.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out map[domain.Address]*domain.Metadata
	err := s.breaker.Do(ctx, "metadata_bulk_get", func(ctx context.Context) error {
		m, err := s.db.BulkGet(ctx, addrs)
		out = m
		return err
	})
	return out, err
}

// Put merges incoming metadata into the store for one address. The
// caller provides the source file id and observed_at that stamp every field
// this call touches.
func (s *Store) Put(ctx context.Context, addr domain.Address, incoming *domain.Metadata, sourceFileID string, observedAt int64) error {
	if incoming == nil {
		return apperr.MalformedMetadata(addr.String(), "nil metadata")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *domain.Metadata
	err := s.breaker.Do(ctx, "metadata_get_for_merge", func(ctx context.Context) error {
		m, err := s.db.Get(ctx, addr)
		existing = m
		return err
	})
	if err != nil {
		return err
	}

	merged := mergeMetadata(existing, incoming, sourceFileID, observedAt)

	if err := s.breaker.Do(ctx, "metadata_put", func(ctx context.Context) error {
		return s.db.Put(ctx, addr, merged)
	}); err != nil {
		return err
	}

	if s.graph != nil {
		// Relations index is additive; a failure here must not fail the
		// authoritative write, so its error is discarded and Put still
		// returns nil.
		_ = s.graph.Upsert(ctx, addr, merged)
	}

	return nil
}

// mergeMetadata applies the field-by-field, newest-observed-at-wins merge
// policy. A field is overwritten only when incoming is non-empty and at
// least as new as the field's recorded provenance.
func mergeMetadata(existing, incoming *domain.Metadata, sourceFileID string, observedAt int64) *domain.Metadata {
	if existing == nil {
		out := *incoming
		out.Provenance = stampAll(incoming, sourceFileID, observedAt)
		return &out
	}

	out := *existing
	if out.Provenance == nil {
		out.Provenance = make(map[string]domain.FieldSource)
	}
	if out.Extra == nil {
		out.Extra = make(map[string]string)
	}

	mergeField(&out, "source_url", incoming.SourceURL, sourceFileID, observedAt, func(v string) { out.SourceURL = v })
	mergeField(&out, "page_title", incoming.PageTitle, sourceFileID, observedAt, func(v string) { out.PageTitle = v })
	mergeField(&out, "company_name", incoming.CompanyName, sourceFileID, observedAt, func(v string) { out.CompanyName = v })
	mergeField(&out, "phone", incoming.Phone, sourceFileID, observedAt, func(v string) { out.Phone = v })
	mergeField(&out, "country", incoming.Country, sourceFileID, observedAt, func(v string) { out.Country = v })
	mergeField(&out, "city", incoming.City, sourceFileID, observedAt, func(v string) { out.City = v })
	mergeField(&out, "address_line", incoming.AddressLine, sourceFileID, observedAt, func(v string) { out.AddressLine = v })
	mergeField(&out, "meta_description", incoming.MetaDescription, sourceFileID, observedAt, func(v string) { out.MetaDescription = v })
	mergeField(&out, "meta_keywords", incoming.MetaKeywords, sourceFileID, observedAt, func(v string) { out.MetaKeywords = v })
	mergeField(&out, "category", incoming.Category, sourceFileID, observedAt, func(v string) { out.Category = v })
	mergeField(&out, "validation_status", incoming.ValidationStatus, sourceFileID, observedAt, func(v string) { out.ValidationStatus = v })
	mergeField(&out, "validation_log", incoming.ValidationLog, sourceFileID, observedAt, func(v string) { out.ValidationLog = v })
	mergeField(&out, "validation_date", incoming.ValidationDate, sourceFileID, observedAt, func(v string) { out.ValidationDate = v })

	for k, v := range incoming.Extra {
		mergeField(&out, "extra."+k, v, sourceFileID, observedAt, func(val string) { out.Extra[k] = val })
	}

	if len(incoming.ExtraColumns) > 0 {
		out.ExtraColumns = incoming.ExtraColumns
	}

	return &out
}

// mergeField overwrites one field via set only when v is non-empty and
// newer-or-equal to the recorded provenance for key.
func mergeField(out *domain.Metadata, key, v, sourceFileID string, observedAt int64, set func(string)) {
	if v == "" {
		return
	}
	prior, existed := out.Provenance[key]
	if !existed || observedAt >= prior.ObservedAt {
		set(v)
		out.Provenance[key] = domain.FieldSource{SourceFileID: sourceFileID, ObservedAt: observedAt}
	}
}

func stampAll(m *domain.Metadata, sourceFileID string, observedAt int64) map[string]domain.FieldSource {
	prov := make(map[string]domain.FieldSource)
	stamp := domain.FieldSource{SourceFileID: sourceFileID, ObservedAt: observedAt}
	for _, present := range []struct {
		key string
		val string
	}{
		{"source_url", m.SourceURL}, {"page_title", m.PageTitle}, {"company_name", m.CompanyName},
		{"phone", m.Phone}, {"country", m.Country}, {"city", m.City}, {"address_line", m.AddressLine},
		{"meta_description", m.MetaDescription}, {"meta_keywords", m.MetaKeywords}, {"category", m.Category},
		{"validation_status", m.ValidationStatus}, {"validation_log", m.ValidationLog}, {"validation_date", m.ValidationDate},
	} {
		if present.val != "" {
			prov[present.key] = stamp
		}
	}
	for k, v := range m.Extra {
		if v != "" {
			prov["extra."+k] = stamp
		}
	}
	return prov
}

// SearchBy resolves matching addresses through the Neo4j relations index.
// When no index is configured, or the index query fails, it returns the
// NOT_FOUND error from scanPostgres; no Postgres search takes place.
func (s *Store) SearchBy(ctx context.Context, filter SearchFilter) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph != nil {
		addrs, err := s.graph.SearchBy(ctx, filter)
		if err == nil {
			return addrs, nil
		}
	}

	return s.scanPostgres(ctx, filter)
}

// scanPostgres is reached when the graph index is absent or unavailable. It
// does not query Postgres; it always returns a NOT_FOUND error.
func (s *Store) scanPostgres(ctx context.Context, filter SearchFilter) ([]domain.Address, error) {
	return nil, apperr.NotFound("search_by fallback requires a graph index; none configured")
}

// Count returns the total number of stored addresses.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.db.Count(ctx)
}

// StoreStats returns aggregate totals and per-country/per-category
// frequency.
func (s *Store) StoreStats(ctx context.Context) (Stats, error) {
	return s.db.Stats(ctx)
}

// WasFileImported reports whether a source file's content hash was already
// merged into the store, making a re-import a no-op.
func (s *Store) WasFileImported(ctx context.Context, contentHash string) (bool, error) {
	return s.db.WasFileImported(ctx, contentHash)
}

// MarkFileImported records a source file as merged.
func (s *Store) MarkFileImported(ctx context.Context, contentHash, path string) error {
	return s.db.MarkFileImported(ctx, contentHash, path)
}
