// Package archive implements the optional MongoDB archival mirror:
// raw structured records and per-run summaries are written here in addition
// to Postgres, purely for later analytics. Nothing in the core reads from
// this package — archival failures are logged, never fatal to a batch.
package archive

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/core/writer"
)

// Archive mirrors raw records and run summaries into MongoDB. A nil client
// (MONGODB_URL unset) makes every method a no-op, so callers don't need to
// branch on whether archival is configured.
type Archive struct {
	client     *mongo.Client
	database   string
	records    *mongo.Collection
	summaries  *mongo.Collection
}

// New builds an Archive. client may be nil, in which case archival is
// disabled entirely.
func New(client *mongo.Client, database string) *Archive {
	a := &Archive{client: client, database: database}
	if client != nil {
		db := client.Database(database)
		a.records = db.Collection("raw_records")
		a.summaries = db.Collection("run_summaries")
	}
	return a
}

// Enabled reports whether a MongoDB client was configured.
func (a *Archive) Enabled() bool { return a.client != nil }

// rawRecordDoc is the archived shape of one structured-record source row,
// kept close to the original record rather than the normalized domain type
// so later analytics can see what was actually scraped.
type rawRecordDoc struct {
	SourceFile string            `bson:"source_file"`
	SourceRow  int               `bson:"source_row"`
	RawAddress string            `bson:"raw_address"`
	Metadata   map[string]string `bson:"metadata,omitempty"`
	ArchivedAt time.Time         `bson:"archived_at"`
}

// ArchiveRecords mirrors a batch of raw records read from a structured
// source file. A no-op when archival is disabled or records is empty.
func (a *Archive) ArchiveRecords(ctx context.Context, records []*domain.Record) error {
	if !a.Enabled() || len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(records))
	now := time.Now().UTC()
	for _, r := range records {
		doc := rawRecordDoc{
			SourceFile: r.SourceFile,
			SourceRow:  r.SourceRow,
			RawAddress: r.RawAddress,
			ArchivedAt: now,
		}
		if r.Metadata != nil {
			doc.Metadata = flattenMetadata(r.Metadata)
		}
		docs = append(docs, doc)
	}

	_, err := a.records.InsertMany(ctx, docs)
	return err
}

func flattenMetadata(m *domain.Metadata) map[string]string {
	out := make(map[string]string, len(m.Extra)+8)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.CompanyName != "" {
		out["company_name"] = m.CompanyName
	}
	if m.Country != "" {
		out["country"] = m.Country
	}
	if m.City != "" {
		out["city"] = m.City
	}
	if m.MetaDescription != "" {
		out["meta_description"] = m.MetaDescription
	}
	if m.MetaKeywords != "" {
		out["meta_keywords"] = m.MetaKeywords
	}
	if m.Category != "" {
		out["category"] = m.Category
	}
	return out
}

// runSummaryDoc mirrors writer.RunSummary plus a run identifier and
// timestamp, so the archive's documents are independently queryable without
// joining back to the filesystem.
type runSummaryDoc struct {
	RunID      string             `bson:"run_id"`
	Counts     domain.CategoryCounts `bson:"counts"`
	WallTimeMS int64              `bson:"wall_time_ms"`
	ArchivedAt time.Time          `bson:"archived_at"`
}

// ArchiveRunSummary mirrors a completed batch's summary.
func (a *Archive) ArchiveRunSummary(ctx context.Context, runID string, summary writer.RunSummary) error {
	if !a.Enabled() {
		return nil
	}
	doc := runSummaryDoc{
		RunID:      runID,
		Counts:     summary.Counts,
		WallTimeMS: summary.WallTimeMS,
		ArchivedAt: time.Now().UTC(),
	}
	_, err := a.summaries.InsertOne(ctx, doc)
	return err
}

// Close disconnects the underlying client, if any.
func (a *Archive) Close(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}
	return a.client.Disconnect(ctx)
}
