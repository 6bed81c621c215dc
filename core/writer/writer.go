// Package writer implements the Result Writer: atomic, deterministic
// output for the four classification categories, the Smart Filter's four
// priority tiers, and their JSON/CSV sidecars.
package writer

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/apperr"
)

// Writer writes category/tier output files under a fixed directory,
// generating UTC timestamped filenames and renaming from a temporary
// sibling on close.
type Writer struct {
	dir string
	now func() time.Time
}

// New builds a Writer rooted at dir. now is injectable for deterministic
// tests; production callers pass time.Now.
func New(dir string, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{dir: dir, now: now}
}

func (w *Writer) timestamp() string {
	return w.now().UTC().Format("20060102_150405")
}

// WriteAddressFile writes one address per line, sorted ascending, to
// <prefix>_<CATEGORY>_<timestamp>.txt via a temp-then-rename.
func (w *Writer) WriteAddressFile(prefix, category string, addrs []domain.Address) (string, error) {
	sorted := make([]domain.Address, len(addrs))
	copy(sorted, addrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	name := fmt.Sprintf("%s_%s_%s.txt", prefix, category, w.timestamp())
	finalPath := filepath.Join(w.dir, name)

	return finalPath, w.atomicWrite(finalPath, func(f *os.File) error {
		buf := bufio.NewWriter(f)
		for _, a := range sorted {
			if _, err := buf.WriteString(a.String() + "\n"); err != nil {
				return err
			}
		}
		return buf.Flush()
	})
}

// WriteScoreResultFile writes one address per line from pre-sorted
// ScoreResults (the Smart Filter Engine sorts by final_score descending,
// then address ascending — callers must not re-sort here).
func (w *Writer) WriteScoreResultFile(prefix string, priority domain.Priority, results []domain.ScoreResult) (string, error) {
	name := fmt.Sprintf("%s_%s_%s.txt", prefix, priority, w.timestamp())
	finalPath := filepath.Join(w.dir, name)

	return finalPath, w.atomicWrite(finalPath, func(f *os.File) error {
		buf := bufio.NewWriter(f)
		for _, r := range results {
			if _, err := buf.WriteString(r.Address.String() + "\n"); err != nil {
				return err
			}
		}
		return buf.Flush()
	})
}

// exclusionReportColumns is the fixed column set for the Smart Filter's CSV
// exclusion/scoring report.
var exclusionReportColumns = []string{
	"address", "final_score", "priority", "raw_score",
	"component_email", "component_company", "component_geo", "component_engagement",
	"bonus_product", "exclusion_reasons",
}

// WriteExclusionReport writes the RFC 4180-quoted CSV report covering every
// scored address, ordered the same way as the tier files.
func (w *Writer) WriteExclusionReport(prefix string, results []domain.ScoreResult) (string, error) {
	name := fmt.Sprintf("%s_exclusion_report_%s.csv", prefix, w.timestamp())
	finalPath := filepath.Join(w.dir, name)

	return finalPath, w.atomicWrite(finalPath, func(f *os.File) error {
		cw := csv.NewWriter(f)
		if err := cw.Write(exclusionReportColumns); err != nil {
			return err
		}
		for _, r := range results {
			reasons := ""
			for i, reason := range r.ExclusionReasons {
				if i > 0 {
					reasons += "|"
				}
				reasons += reason
			}
			row := []string{
				r.Address.String(),
				fmt.Sprintf("%.4f", r.FinalScore),
				string(r.Priority),
				fmt.Sprintf("%.4f", r.RawScore),
				fmt.Sprintf("%.4f", r.Breakdown.EmailQuality),
				fmt.Sprintf("%.4f", r.Breakdown.CompanyRelevance),
				fmt.Sprintf("%.4f", r.Breakdown.GeographicPriority),
				fmt.Sprintf("%.4f", r.Breakdown.Engagement),
				fmt.Sprintf("%.4f", r.Breakdown.BonusProduct),
				reasons,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// MetadataSidecarRow is one line of the NDJSON metadata sidecar.
type MetadataSidecarRow struct {
	Address  domain.Address   `json:"address"`
	Metadata *domain.Metadata `json:"metadata,omitempty"`
}

// WriteMetadataJSONSidecar writes one JSON object per line, address
// ascending.
func (w *Writer) WriteMetadataJSONSidecar(prefix string, rows []MetadataSidecarRow) (string, error) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Address < rows[j].Address })

	name := fmt.Sprintf("%s_metadata_%s.jsonl", prefix, w.timestamp())
	finalPath := filepath.Join(w.dir, name)

	return finalPath, w.atomicWrite(finalPath, func(f *os.File) error {
		enc := json.NewEncoder(f)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunSummary is the per-run summary JSON document.
type RunSummary struct {
	Counts        domain.CategoryCounts `json:"counts"`
	WallTimeMS    int64                 `json:"wall_time_ms"`
	ConfigSnapshot map[string]any       `json:"config_snapshot,omitempty"`
}

// WriteRunSummary writes the single-object run summary JSON file.
func (w *Writer) WriteRunSummary(prefix string, summary RunSummary) (string, error) {
	name := fmt.Sprintf("%s_summary_%s.json", prefix, w.timestamp())
	finalPath := filepath.Join(w.dir, name)

	return finalPath, w.atomicWrite(finalPath, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	})
}

// atomicWrite writes via a temporary sibling file and renames it into place
// on success, leaving no partial file visible under finalPath.
func (w *Writer) atomicWrite(finalPath string, fn func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return apperr.StoreUnavailable("mkdir", err)
	}

	tmpPath := finalPath + ".tmp-" + fmt.Sprintf("%d", w.now().UnixNano())
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperr.StoreUnavailable("create temp output", err)
	}

	if err := fn(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return apperr.StoreUnavailable("write output", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.StoreUnavailable("close output", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return apperr.StoreUnavailable("rename output into place", err)
	}
	return nil
}

// CleanStaleTemporaries removes any leftover ".tmp-*" files from a prior
// crashed run,  "partial temporaries are left and cleaned up on
// the next run" contract.
func (w *Writer) CleanStaleTemporaries() error {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if containsTmpMarker(name) {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
	return nil
}

func containsTmpMarker(name string) bool {
	for i := 0; i+5 <= len(name); i++ {
		if name[i:i+5] == ".tmp-" {
			return true
		}
	}
	return false
}
