// Package blocklist implements the Blocklist Service: an
// immutable-snapshot, copy-on-write store of blocked emails and domains with
// an undoable mutation history.
package blocklist

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/apperr"
)

// ProblematicDomainThreshold (K) is the default number of distinct blocked
// addresses at a domain that auto-promotes it into BlockedDomains during
// ImportFromLog.
const ProblematicDomainThreshold = 5

const historyCapacity = 100

// Persistence is the Postgres-backed durable log behind the Service's
// in-memory snapshot. It is additive: the in-memory snapshot is
// authoritative during a run, this log is only read at startup to seed it
// and written after each mutation to survive a restart. A nil Persistence
// means the Service runs memory-only.
type Persistence interface {
	PersistEmail(ctx context.Context, addr domain.Address, entry domain.BlockEntry) error
	RemoveEmail(ctx context.Context, addr domain.Address) error
	PersistDomain(ctx context.Context, d string, entry domain.BlockEntry) error
	RemoveDomain(ctx context.Context, d string) error
}

// historyEntry is one ring-buffer slot: the HistoryOp record shown to
// callers (via Stats) plus the before/after snapshots needed to restore
// exact state on undo or redo, regardless of operation type.
type historyEntry struct {
	op     domain.HistoryOp
	before *domain.Blocklists
	after  *domain.Blocklists
}

// Service holds the current Blocklists snapshot behind an atomic pointer.
// Reads never block; writers serialize through mu and install a new
// snapshot.
type Service struct {
	snapshot atomic.Pointer[domain.Blocklists]

	mu      sync.Mutex // serializes writers only
	k       int
	persist Persistence // nil if unconfigured

	history []historyEntry
	histPos int // index of the next slot to write; ring buffer cursor
	redo    *historyEntry
}

// New builds an empty Service. k overrides ProblematicDomainThreshold; pass
// 0 to use the default. persist may be nil.
func New(k int, persist Persistence) *Service {
	if k <= 0 {
		k = ProblematicDomainThreshold
	}
	s := &Service{k: k, persist: persist}
	s.snapshot.Store(domain.NewBlocklists())
	return s
}

// Load replaces the current snapshot wholesale, for bootstrapping from a
// persisted store.
func (s *Service) Load(snap *domain.Blocklists) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Store(snap)
}

// Snapshot returns the current immutable Blocklists, safe to read without
// locking.
func (s *Service) Snapshot() *domain.Blocklists {
	return s.snapshot.Load()
}

// ContainsEmail reports whether the exact address is blocked.
func (s *Service) ContainsEmail(a domain.Address) bool {
	_, ok := s.Snapshot().Emails[a]
	return ok
}

// ContainsDomain reports whether the domain is blocked.
func (s *Service) ContainsDomain(d string) bool {
	_, ok := s.Snapshot().Domains[strings.ToLower(d)]
	return ok
}

// AddEmail adds one address to the blocklist. Promotion to a blocked domain
// only happens during ImportFromLog, never on a single manual add.
func (s *Service) AddEmail(ctx context.Context, a domain.Address, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot.Load()
	key := domain.Address(strings.ToLower(string(a)))
	if _, exists := cur.Emails[key]; exists {
		return apperr.DuplicateEntry(string(key))
	}

	next := cur.Clone()
	entry := domain.BlockEntry{Note: note, AddedAt: time.Now().Unix()}
	next.Emails[key] = entry
	s.recordLocked("add_email", string(key), note, cur, next)
	s.snapshot.Store(next)

	s.persistEmailLocked(ctx, key, entry)
	return nil
}

// AddDomain adds one domain to the blocklist directly (not via promotion).
func (s *Service) AddDomain(ctx context.Context, d string, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot.Load()
	key := strings.ToLower(d)
	if _, exists := cur.Domains[key]; exists {
		return apperr.DuplicateEntry(key)
	}

	next := cur.Clone()
	entry := domain.BlockEntry{Note: note, AddedAt: time.Now().Unix()}
	next.Domains[key] = entry
	s.recordLocked("add_domain", key, note, cur, next)
	s.snapshot.Store(next)

	s.persistDomainLocked(ctx, key, entry)
	return nil
}

// RemoveEmail removes one address.
func (s *Service) RemoveEmail(ctx context.Context, a domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot.Load()
	key := domain.Address(strings.ToLower(string(a)))
	if _, exists := cur.Emails[key]; !exists {
		return apperr.NotFound(string(key))
	}

	next := cur.Clone()
	delete(next.Emails, key)
	s.recordLocked("remove_email", string(key), "", cur, next)
	s.snapshot.Store(next)

	s.persistEmailRemovalLocked(ctx, key)
	return nil
}

// RemoveDomain removes one domain.
func (s *Service) RemoveDomain(ctx context.Context, d string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot.Load()
	key := strings.ToLower(d)
	if _, exists := cur.Domains[key]; !exists {
		return apperr.NotFound(key)
	}

	next := cur.Clone()
	delete(next.Domains, key)
	s.recordLocked("remove_domain", key, "", cur, next)
	s.snapshot.Store(next)

	s.persistDomainRemovalLocked(ctx, key)
	return nil
}

// ImportRow is one parsed row from a blocklist log stream.
type ImportRow struct {
	Email  domain.Address
	Status string // e.g. "hard bounce", "blocked", "complaint", "unsubscribed", "invalid", "spam-report"
}

// ImportTriggerStatuses is the default allowlist of statuses that cause a
// row to be added during ImportFromLog.
var ImportTriggerStatuses = map[string]bool{
	"hard bounce":  true,
	"blocked":      true,
	"complaint":    true,
	"unsubscribed": true,
	"invalid":      true,
	"spam-report":  true,
}

// ImportFromLog bulk-adds every row whose status is in the trigger allowlist,
// then re-derives and promotes problematic domains. Already-present emails
// are skipped rather than erroring, matching a bulk-ingest's best-effort
// semantics. This is the only path that promotes a problematic domain.
func (s *Service) ImportFromLog(ctx context.Context, rows []ImportRow) (added int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot.Load()
	next := cur.Clone()

	var addedEmails []domain.Address
	for _, row := range rows {
		if !ImportTriggerStatuses[strings.ToLower(row.Status)] {
			continue
		}
		key := domain.Address(strings.ToLower(string(row.Email)))
		if _, exists := next.Emails[key]; exists {
			continue
		}
		next.Emails[key] = domain.BlockEntry{Note: row.Status, AddedAt: time.Now().Unix()}
		addedEmails = append(addedEmails, key)
		added++
	}

	promoted := s.promoteProblematicDomainsLocked(next)
	s.recordLocked("import", "", "", cur, next)
	s.snapshot.Store(next)

	for _, key := range addedEmails {
		s.persistEmailLocked(ctx, key, next.Emails[key])
	}
	for _, d := range promoted {
		s.persistDomainLocked(ctx, d, next.Domains[d])
	}
	return added, nil
}

// promoteProblematicDomainsLocked re-derives domains with >= k blocked
// addresses and inserts any missing ones directly into next, returning the
// domains it added (must be called with mu held, operating on the snapshot
// about to be installed).
func (s *Service) promoteProblematicDomainsLocked(next *domain.Blocklists) []string {
	counts := make(map[string]int)
	for addr := range next.Emails {
		counts[addr.Domain()]++
	}
	var promoted []string
	for d, n := range counts {
		if n >= s.k {
			if _, exists := next.Domains[d]; !exists {
				next.Domains[d] = domain.BlockEntry{Note: "auto-promoted: problematic domain", AddedAt: time.Now().Unix()}
				promoted = append(promoted, d)
			}
		}
	}
	return promoted
}

// persistEmailLocked writes an add-or-update through to the durable log. The
// log is additive; a failure here must not fail the already-applied
// in-memory mutation, so the error is dropped rather than returned.
func (s *Service) persistEmailLocked(ctx context.Context, addr domain.Address, entry domain.BlockEntry) {
	if s.persist == nil {
		return
	}
	_ = s.persist.PersistEmail(ctx, addr, entry)
}

func (s *Service) persistEmailRemovalLocked(ctx context.Context, addr domain.Address) {
	if s.persist == nil {
		return
	}
	_ = s.persist.RemoveEmail(ctx, addr)
}

func (s *Service) persistDomainLocked(ctx context.Context, d string, entry domain.BlockEntry) {
	if s.persist == nil {
		return
	}
	_ = s.persist.PersistDomain(ctx, d, entry)
}

func (s *Service) persistDomainRemovalLocked(ctx context.Context, d string) {
	if s.persist == nil {
		return
	}
	_ = s.persist.RemoveDomain(ctx, d)
}

// recordLocked pushes a history entry carrying both the pre- and
// post-mutation snapshots, so UndoLast/RedoLast can restore exact state for
// every operation type, including a bulk import. Any pending redo is
// invalidated since the history has diverged from it.
func (s *Service) recordLocked(op, target, note string, before, after *domain.Blocklists) {
	entry := historyEntry{
		op: domain.HistoryOp{
			Timestamp:   time.Now().Unix(),
			Operation:   op,
			Target:      target,
			Note:        note,
			BeforeCount: len(before.Emails) + len(before.Domains),
			AfterCount:  len(after.Emails) + len(after.Domains),
		},
		before: before,
		after:  after,
	}
	s.pushLocked(entry)
	s.redo = nil
}

func (s *Service) pushLocked(entry historyEntry) {
	if len(s.history) < historyCapacity {
		s.history = append(s.history, entry)
	} else {
		s.history[s.histPos] = entry
		s.histPos = (s.histPos + 1) % historyCapacity
	}
}

// UndoLast reverses the most recent mutation by restoring the snapshot taken
// immediately before it, byte-for-byte, regardless of operation type. The
// reversed entry becomes available to RedoLast.
func (s *Service) UndoLast() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return apperr.HistoryEmpty()
	}

	entry := s.popLastLocked()
	s.snapshot.Store(entry.before)
	s.redo = &entry
	return nil
}

// RedoLast reapplies the mutation most recently reversed by UndoLast. It
// holds a single slot: a fresh mutation after an undo clears it, matching
// the ring buffer's bounded memory.
func (s *Service) RedoLast() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.redo == nil {
		return apperr.HistoryEmpty()
	}

	entry := *s.redo
	s.snapshot.Store(entry.after)
	s.pushLocked(entry)
	s.redo = nil
	return nil
}

func (s *Service) popLastLocked() historyEntry {
	n := len(s.history)
	if n < historyCapacity {
		last := s.history[n-1]
		s.history = s.history[:n-1]
		return last
	}
	idx := (s.histPos - 1 + historyCapacity) % historyCapacity
	last := s.history[idx]
	s.histPos = idx
	return last
}

// Stats reports the current sizes.
func (s *Service) Stats() domain.BlocklistStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snapshot.Load()
	return domain.BlocklistStats{
		EmailCount:  len(cur.Emails),
		DomainCount: len(cur.Domains),
		HistorySize: len(s.history),
	}
}
