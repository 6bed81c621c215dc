// Package pipeline implements the Processing Pipeline: the
// orchestration layer that drives every input file through the normalizer,
// blocklist service, metadata store, and processing cache, then fans
// classified addresses out to the Result Writer.
//
// Concurrency follows a go-pkgz/pool worker-pool idiom
// (adapter/in/worker/worker_pool.go): a bounded worker pool consumes jobs
// submitted by a small reader pool, and a dedicated, single-consumer actor
// per output category absorbs the fan-in so no category slice is ever
// touched by more than one goroutine.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/go-pkgz/pool"

	"github.com/bridgeway/qualify/adapter/out/archive"
	"github.com/bridgeway/qualify/core/blocklist"
	"github.com/bridgeway/qualify/core/cache"
	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/core/metadatastore"
	"github.com/bridgeway/qualify/core/normalize"
	"github.com/bridgeway/qualify/core/reader"
	"github.com/bridgeway/qualify/core/writer"
	"github.com/bridgeway/qualify/pkg/apperr"
	"github.com/bridgeway/qualify/pkg/logger"
	"github.com/bridgeway/qualify/pkg/metrics"
)

// structuredExtensions is the fixed extension vocabulary routed to the
// structured-record reader; everything else uses the plain-text
// reader.
var structuredExtensions = map[string]bool{
	".xml": true,
	".lvp": true,
}

const (
	defaultFlushThreshold = 5000
	errorCapPerFile       = 1000
	errorCapPerBatch      = 1000
	defaultRecordTimeout  = time.Second
	defaultFileTimeout    = 10 * time.Minute
)

// Options configures one Pipeline's concurrency and timeout posture.
type Options struct {
	ReaderPoolSize int           // P_read, default 2
	WorkerPoolSize int           // P_work, default runtime.NumCPU()
	QueueSize      int           // worker channel depth, default 10000
	FlushThreshold int           // default 5000; not read by the pipeline, which writes every output once at batch end
	RecordTimeout  time.Duration // default 1s
	FileTimeout    time.Duration // default 10m
	OutputPrefix   string        // filename prefix handed to the Result Writer
}

func (o Options) withDefaults() Options {
	if o.ReaderPoolSize <= 0 {
		o.ReaderPoolSize = 2
	}
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = runtime.NumCPU()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = defaultFlushThreshold
	}
	if o.RecordTimeout <= 0 {
		o.RecordTimeout = defaultRecordTimeout
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = defaultFileTimeout
	}
	if o.OutputPrefix == "" {
		o.OutputPrefix = "qualify"
	}
	return o
}

// Pipeline wires the core components into one process_batch operation.
type Pipeline struct {
	blocklist *blocklist.Service
	metadata  *metadatastore.Store
	cache     *cache.Cache
	result    *writer.Writer
	archive   *archive.Archive

	opts Options
	log  *logger.Logger
}

// New builds a Pipeline. Any of metadata/cache/result/arc may be nil to
// disable the corresponding optional behavior (enrichment, dedup, output
// writing, or raw-record archival), matching the per-run ProcessOptions
// toggles.
func New(bl *blocklist.Service, meta *metadatastore.Store, c *cache.Cache, w *writer.Writer, arc *archive.Archive, opts Options) *Pipeline {
	return &Pipeline{
		blocklist: bl,
		metadata:  meta,
		cache:     c,
		result:    w,
		archive:   arc,
		opts:      opts.withDefaults(),
		log:       logger.WithField("component", "pipeline"),
	}
}

// recordJob is one unit of work submitted to the worker pool.
type recordJob struct {
	rec  *domain.Record
	file *fileState
}

// fileState accumulates the outcome of processing a single input file,
// shared by every worker handling one of its records.
type fileState struct {
	path string

	countsMu sync.Mutex
	counts   domain.CategoryCounts

	errMu  sync.Mutex
	errors []domain.RecordError

	rate *metrics.RateTracker
}

func (f *fileState) addCounts(fn func(*domain.CategoryCounts)) {
	f.countsMu.Lock()
	defer f.countsMu.Unlock()
	fn(&f.counts)
}

func (f *fileState) addError(row int, class apperr.Class, msg string) {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	if len(f.errors) >= errorCapPerFile {
		return
	}
	f.errors = append(f.errors, domain.RecordError{
		SourceFile: f.path,
		SourceRow:  row,
		Class:      string(class),
		Message:    msg,
	})
}

// batchCollector is the single-consumer actor set absorbing category fan-in
// from every worker across every file in the run. Each channel has exactly one reader goroutine, so the slice it
// builds needs no additional locking.
type batchCollector struct {
	channels map[domain.Classification]chan domain.Address
	wg       sync.WaitGroup
	results  map[domain.Classification][]domain.Address
	resMu    sync.Mutex
}

func newBatchCollector(depth int) *batchCollector {
	bc := &batchCollector{
		channels: map[domain.Classification]chan domain.Address{
			domain.Clean:         make(chan domain.Address, depth),
			domain.BlockedEmail:  make(chan domain.Address, depth),
			domain.BlockedDomain: make(chan domain.Address, depth),
			domain.Invalid:       make(chan domain.Address, depth),
		},
		results: make(map[domain.Classification][]domain.Address, 4),
	}
	for cls, ch := range bc.channels {
		bc.wg.Add(1)
		go bc.drain(cls, ch)
	}
	return bc
}

func (bc *batchCollector) drain(cls domain.Classification, ch chan domain.Address) {
	defer bc.wg.Done()
	var addrs []domain.Address
	for a := range ch {
		addrs = append(addrs, a)
	}
	bc.resMu.Lock()
	bc.results[cls] = addrs
	bc.resMu.Unlock()
}

func (bc *batchCollector) emit(cls domain.Classification, addr domain.Address) {
	bc.channels[cls] <- addr
}

func (bc *batchCollector) closeAndWait() map[domain.Classification][]domain.Address {
	for _, ch := range bc.channels {
		close(ch)
	}
	bc.wg.Wait()
	return bc.results
}

// progressDispatcher serializes progress callback invocations and coalesces
// bursts to the most recent update, without ever holding a lock while
// the callback itself runs.
type progressDispatcher struct {
	cb   func(domain.FileProgress)
	ch   chan domain.FileProgress
	done chan struct{}
}

func newProgressDispatcher(cb func(domain.FileProgress)) *progressDispatcher {
	d := &progressDispatcher{cb: cb, ch: make(chan domain.FileProgress, 1), done: make(chan struct{})}
	if cb != nil {
		go d.run()
	}
	return d
}

func (d *progressDispatcher) run() {
	defer close(d.done)
	for p := range d.ch {
		d.cb(p)
	}
}

// report is a non-blocking, most-recent-wins send.
func (d *progressDispatcher) report(p domain.FileProgress) {
	if d.cb == nil {
		return
	}
	select {
	case d.ch <- p:
	default:
		select {
		case <-d.ch:
		default:
		}
		select {
		case d.ch <- p:
		default:
		}
	}
}

func (d *progressDispatcher) close() {
	close(d.ch)
	if d.cb != nil {
		<-d.done
	}
}

// recordWorker implements pool.Worker for *recordJob.
type recordWorker struct {
	p          *Pipeline
	opts       domain.ProcessOptions
	collector  *batchCollector
	progress   *progressDispatcher
	batchScope cache.Scope
}

// Do normalizes, validates, checks the blocklist, and dedupes one record,
// then routes it to the right output category.
func (w *recordWorker) Do(ctx context.Context, job *recordJob) error {
	recCtx, cancel := context.WithTimeout(ctx, w.p.opts.RecordTimeout)
	defer cancel()

	cls, addr := w.classify(recCtx, job)

	job.file.addCounts(func(c *domain.CategoryCounts) {
		c.RecordsRead++
		switch cls {
		case domain.Clean:
			c.Clean++
		case domain.BlockedEmail:
			c.BlockedEmail++
		case domain.BlockedDomain:
			c.BlockedDomain++
		case domain.Invalid:
			c.Invalid++
		}
	})

	if addr != "" {
		if suppressed := w.dedup(ctx, job, addr); suppressed {
			job.file.addCounts(func(c *domain.CategoryCounts) { c.DuplicatesSuppressed++ })
			return nil
		}
		w.collector.emit(cls, addr)
	}

	if job.file.rate != nil {
		job.file.rate.Record(1, time.Now())
	}
	w.progress.report(domain.FileProgress{
		Filename:         job.file.path,
		TotalRecordsSeen: job.file.snapshotRecordsRead(),
		RatePerSec:       job.file.rateOrZero(),
		ETA:              job.file.etaOrZero(w.opts),
	})

	return nil
}

// classify runs normalize/validate, optional enrichment, and the blocklist
// precedence check (invalid > blocked_email > blocked_domain > clean). It
// returns the empty Address for records that end up invalid so callers skip
// dedup/emission bookkeeping that only applies to addressable records —
// invalid records are still counted and still emitted under domain.Invalid
// using the best-effort raw token when available.
func (w *recordWorker) classify(ctx context.Context, job *recordJob) (domain.Classification, domain.Address) {
	rec := job.rec

	addr, err := normalize.NormalizeAndValidate(rec.RawAddress)
	if err != nil {
		job.file.addError(rec.SourceRow, apperr.ClassMalformedInput, err.Error())
		if rec.RawAddress != "" {
			w.collector.emit(domain.Invalid, domain.Address(rec.RawAddress))
		}
		return domain.Invalid, ""
	}

	if w.opts.EnrichFromMetadataStore && w.p.metadata != nil && needsEnrichment(rec.Metadata) {
		if stored, err := w.p.metadata.Get(ctx, addr); err == nil && stored != nil {
			rec.Metadata = fillMissing(rec.Metadata, stored)
		}
	}

	cls := domain.Clean
	switch {
	case w.p.blocklist != nil && w.p.blocklist.ContainsEmail(addr):
		cls = domain.BlockedEmail
	case w.p.blocklist != nil && w.p.blocklist.ContainsDomain(addr.Domain()):
		cls = domain.BlockedDomain
	}

	if cls == domain.Clean && w.p.metadata != nil && rec.Metadata != nil {
		if err := w.p.metadata.Put(ctx, addr, rec.Metadata, job.file.path, time.Now().Unix()); err != nil {
			job.file.addError(rec.SourceRow, apperr.ClassOf(err), err.Error())
		}
	}

	return cls, addr
}

// dedup applies the configured deduplication mode. It never
// suppresses invalid records, since those carry no canonical Address to key
// on consistently with the cache's address-seen set.
func (w *recordWorker) dedup(ctx context.Context, job *recordJob, addr domain.Address) bool {
	if w.opts.Deduplicate == domain.DeduplicateNone || w.p.cache == nil {
		return false
	}

	seen, err := w.p.cache.Seen(ctx, w.batchScope, addr)
	if err != nil {
		job.file.addError(job.rec.SourceRow, apperr.ClassOf(err), err.Error())
		return false
	}
	if seen {
		return true
	}
	if err := w.p.cache.MarkSeen(ctx, w.batchScope, addr); err != nil {
		job.file.addError(job.rec.SourceRow, apperr.ClassOf(err), err.Error())
	}
	return false
}

func needsEnrichment(m *domain.Metadata) bool {
	return m == nil || m.CompanyName == "" || m.Country == "" || m.MetaDescription == ""
}

func fillMissing(rec, stored *domain.Metadata) *domain.Metadata {
	if rec == nil {
		return stored
	}
	out := *rec
	if out.CompanyName == "" {
		out.CompanyName = stored.CompanyName
	}
	if out.Country == "" {
		out.Country = stored.Country
	}
	if out.City == "" {
		out.City = stored.City
	}
	if out.MetaDescription == "" {
		out.MetaDescription = stored.MetaDescription
	}
	if out.MetaKeywords == "" {
		out.MetaKeywords = stored.MetaKeywords
	}
	if out.Category == "" {
		out.Category = stored.Category
	}
	return &out
}

func (f *fileState) snapshotRecordsRead() int {
	f.countsMu.Lock()
	defer f.countsMu.Unlock()
	return f.counts.RecordsRead
}

func (f *fileState) rateOrZero() float64 {
	if f.rate == nil {
		return 0
	}
	return f.rate.RatePerSecond()
}

func (f *fileState) etaOrZero(opts domain.ProcessOptions) time.Duration {
	if f.rate == nil {
		return 0
	}
	return f.rate.ETA(0) // unknown remaining count for a streaming reader; rate is still reported
}

// ProcessBatch runs process_batch over files, honoring opts and
// reporting progress through opts.ProgressCallback. Cancelling ctx stops
// readers, drains in-flight work, and returns a BatchResult with
// Cancelled=true; no output file is renamed in that case.
func (p *Pipeline) ProcessBatch(ctx context.Context, files []string, opts domain.ProcessOptions) (domain.BatchResult, error) {
	start := time.Now()

	batchScope := cache.ScopeBatchLocal
	if opts.Deduplicate == domain.DeduplicateAgainstCache {
		batchScope = cache.ScopePersistent
	}

	collector := newBatchCollector(p.opts.QueueSize)
	progress := newProgressDispatcher(opts.ProgressCallback)

	worker := &recordWorker{p: p, opts: opts, collector: collector, progress: progress, batchScope: batchScope}
	wg := pool.New[*recordJob](p.opts.WorkerPoolSize, worker).
		WithWorkerChanSize(p.opts.QueueSize).
		WithContinueOnError()

	if err := wg.Go(ctx); err != nil {
		progress.close()
		return domain.BatchResult{}, apperr.StoreUnavailable("start worker pool", err)
	}

	fileResults := make([]domain.ProcessResult, 0, len(files))
	var frMu sync.Mutex
	sem := make(chan struct{}, p.opts.ReaderPoolSize)
	var readWG sync.WaitGroup
	var cancelledFlag int32

	for _, path := range files {
		readWG.Add(1)
		go func(path string) {
			defer readWG.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				atomic.StoreInt32(&cancelledFlag, 1)
				return
			}

			res := p.processFile(ctx, path, opts, wg, collector)
			if res.Status == domain.FileStatusCancelled {
				atomic.StoreInt32(&cancelledFlag, 1)
			}
			frMu.Lock()
			fileResults = append(fileResults, res)
			frMu.Unlock()
		}(path)
	}
	readWG.Wait()

	_ = wg.Close(ctx)
	results := collector.closeAndWait()
	progress.close()

	totals := domain.CategoryCounts{}
	var batchErrors []domain.RecordError
	partialFailure := false
	for _, fr := range fileResults {
		totals.Clean += fr.Counts.Clean
		totals.BlockedEmail += fr.Counts.BlockedEmail
		totals.BlockedDomain += fr.Counts.BlockedDomain
		totals.Invalid += fr.Counts.Invalid
		totals.DuplicatesSuppressed += fr.Counts.DuplicatesSuppressed
		totals.RecordsRead += fr.Counts.RecordsRead
		if fr.Status == domain.FileStatusFailed {
			partialFailure = true
		}
		for _, e := range fr.Errors {
			if len(batchErrors) >= errorCapPerBatch {
				break
			}
			batchErrors = append(batchErrors, e)
		}
	}

	cancelled := atomic.LoadInt32(&cancelledFlag) == 1 || ctx.Err() != nil

	batch := domain.BatchResult{
		Files:          fileResults,
		Totals:         totals,
		Errors:         batchErrors,
		WallTime:       time.Since(start),
		PartialFailure: partialFailure,
		Cancelled:      cancelled,
		CleanAddresses: results[domain.Clean],
	}

	if opts.WriteOutputs && p.result != nil && !cancelled {
		if err := p.writeOutputs(results, batch); err != nil {
			return batch, err
		}
	}

	return batch, nil
}

func (p *Pipeline) writeOutputs(results map[domain.Classification][]domain.Address, batch domain.BatchResult) error {
	categoryFiles := []struct {
		cls  domain.Classification
		name string
	}{
		{domain.Clean, "clean"},
		{domain.BlockedEmail, "blocked_email"},
		{domain.BlockedDomain, "blocked_domain"},
		{domain.Invalid, "invalid"},
	}
	for _, cf := range categoryFiles {
		if _, err := p.result.WriteAddressFile(p.opts.OutputPrefix, cf.name, results[cf.cls]); err != nil {
			return err
		}
	}
	_, err := p.result.WriteRunSummary(p.opts.OutputPrefix, writer.RunSummary{
		Counts:     batch.Totals,
		WallTimeMS: batch.WallTime.Milliseconds(),
	})
	return err
}

// processFile implements the per-file algorithm: fingerprint, skip
// check, read, submit every record to the worker pool, then record the
// fingerprint with a summary.
func (p *Pipeline) processFile(ctx context.Context, path string, opts domain.ProcessOptions, wg *pool.WorkerGroup[*recordJob], collector *batchCollector) domain.ProcessResult {
	fileStart := time.Now()
	fileCtx, cancel := context.WithTimeout(ctx, p.opts.FileTimeout)
	defer cancel()

	fp, content, err := fingerprint(path)
	if err != nil {
		return domain.ProcessResult{
			File:     path,
			Status:   domain.FileStatusFailed,
			Errors:   []domain.RecordError{{SourceFile: path, Message: err.Error(), Class: string(apperr.ClassResourceFailure)}},
			Duration: time.Since(fileStart),
		}
	}

	if opts.SkipIfCached && p.cache != nil {
		was, err := p.cache.WasProcessed(fileCtx, fp)
		if err == nil && was {
			return domain.ProcessResult{File: path, Status: domain.FileStatusSkippedCached, Fingerprint: fp, Duration: time.Since(fileStart)}
		}
	}

	state := &fileState{path: path, rate: metrics.NewRateTracker(0.3, 1000)}

	rdr, err := newReader(path, content)
	if err != nil {
		return domain.ProcessResult{
			File:     path,
			Status:   domain.FileStatusFailed,
			Errors:   []domain.RecordError{{SourceFile: path, Message: err.Error(), Class: string(apperr.ClassMalformedInput)}},
			Duration: time.Since(fileStart),
		}
	}

	archiveRaw := p.archive != nil && p.archive.Enabled() && structuredExtensions[strings.ToLower(filepath.Ext(path))]
	var rawRecords []*domain.Record

	status := domain.FileStatusOK
readLoop:
	for {
		select {
		case <-fileCtx.Done():
			if ctx.Err() != nil {
				status = domain.FileStatusCancelled
			} else {
				status = domain.FileStatusFailed
				state.addError(0, apperr.ClassResourceFailure, "file reader timeout exceeded")
			}
			break readLoop
		default:
		}

		rec, err := rdr.Next()
		if err == io.EOF {
			break readLoop
		}
		if err != nil {
			state.addError(0, apperr.ClassOf(err), err.Error())
			status = domain.FileStatusFailed
			break readLoop
		}

		if archiveRaw {
			rawRecords = append(rawRecords, rec)
		}

		job := &recordJob{rec: rec, file: state}
		select {
		case <-ctx.Done():
			status = domain.FileStatusCancelled
			break readLoop
		default:
			wg.Submit(job)
		}
	}

	if archiveRaw && len(rawRecords) > 0 {
		if err := p.archive.ArchiveRecords(fileCtx, rawRecords); err != nil {
			p.log.WithError(err).Warn("failed to archive raw records")
		}
	}

	fp.RowCount = state.snapshotRecordsRead()

	state.countsMu.Lock()
	counts := state.counts
	state.countsMu.Unlock()

	if status == domain.FileStatusOK && p.cache != nil {
		summary, _ := json.Marshal(counts)
		fp.EmittedRowCount = fp.RowCount
		if err := p.cache.RecordProcessed(ctx, fp, summary); err != nil {
			state.addError(0, apperr.ClassOf(err), err.Error())
		}
	}

	state.errMu.Lock()
	errs := state.errors
	state.errMu.Unlock()

	return domain.ProcessResult{
		File:        path,
		Status:      status,
		Counts:      counts,
		Errors:      errs,
		Fingerprint: fp,
		Duration:    time.Since(fileStart),
	}
}

// fingerprint reads path fully and returns its FileFingerprint
// alongside the raw bytes so the chosen reader never re-reads the file.
func fingerprint(path string) (domain.FileFingerprint, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.FileFingerprint{}, nil, apperr.ReadError(path, 0, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.FileFingerprint{}, nil, apperr.ReadError(path, 0, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return domain.FileFingerprint{}, nil, apperr.ReadError(path, 0, err)
	}

	sum := sha256.Sum256(content)
	return domain.FileFingerprint{
		Path:        path,
		ContentHash: hex.EncodeToString(sum[:]),
		Size:        info.Size(),
		ModTime:     info.ModTime().UTC().Unix(),
	}, content, nil
}

// newReader dispatches to the plain-text or structured reader by file
// extension.
func newReader(path string, content []byte) (recordReader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if structuredExtensions[ext] {
		return reader.NewStructuredReader(path, bytes.NewReader(content))
	}
	return reader.NewPlainTextReader(path, bytes.NewReader(content)), nil
}

// recordReader is the common surface of both Component E readers.
type recordReader interface {
	Next() (*domain.Record, error)
}
