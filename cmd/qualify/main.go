package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bridgeway/qualify/config"
	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/core/writer"
	"github.com/bridgeway/qualify/internal/bootstrap"
	"github.com/bridgeway/qualify/pkg/logger"
	"github.com/bridgeway/qualify/pkg/snowflake"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger.Init(logger.Config{Level: logger.LevelInfo, Service: "qualify"})
	if err := snowflake.Init(0); err != nil {
		logger.Fatal("failed to initialize run ID generator: %v", err)
	}

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	dedupFlag := flag.String("dedup", "batch", "deduplication scope: batch or persistent")
	enrichFlag := flag.Bool("enrich", true, "enrich missing metadata fields from the metadata store")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		logger.Fatal("usage: qualify [-dedup=batch|persistent] [-enrich] <file> [file...]")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config: %v", err)
	}
	logger.Init(logger.Config{Level: logger.ParseLevel(cfg.LogLevel), Service: "qualify"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, cancelling in-flight batch (timeout %v)", shutdownTimeout)
		cancel()
		time.AfterFunc(shutdownTimeout, func() {
			logger.Fatal("shutdown timeout %v exceeded, exiting", shutdownTimeout)
		})
	}()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	mode := domain.DeduplicateWithinBatch
	if *dedupFlag == "persistent" {
		mode = domain.DeduplicateAgainstCache
	}

	opts := domain.ProcessOptions{
		Deduplicate:             mode,
		EnrichFromMetadataStore: *enrichFlag,
		WriteOutputs:            true,
		SkipIfCached:            true,
		ProgressCallback: func(p domain.FileProgress) {
			logger.WithField("file", p.Filename).
				WithField("records", p.TotalRecordsSeen).
				WithField("rate_per_sec", p.RatePerSec).
				Info("processing")
		},
	}

	start := time.Now()
	batch, err := deps.Pipeline.ProcessBatch(ctx, files, opts)
	if err != nil {
		logger.Fatal("batch processing failed: %v", err)
	}

	logger.WithField("clean", batch.Totals.Clean).
		WithField("blocked_email", batch.Totals.BlockedEmail).
		WithField("blocked_domain", batch.Totals.BlockedDomain).
		WithField("invalid", batch.Totals.Invalid).
		WithField("wall_time", batch.WallTime.String()).
		Info("batch complete")

	if batch.Cancelled {
		logger.Warn("batch cancelled, skipping scoring pass")
		return
	}

	if err := runScoringPass(ctx, deps, batch); err != nil {
		logger.Fatal("scoring pass failed: %v", err)
	}

	if deps.Archive.Enabled() {
		runID := strconv.FormatInt(snowflake.ID(), 10)
		if err := deps.Archive.ArchiveRunSummary(ctx, runID, writer.RunSummary{
			Counts:     batch.Totals,
			WallTimeMS: time.Since(start).Milliseconds(),
		}); err != nil {
			logger.WithError(err).Warn("failed to archive run summary")
		}
	}
}

// runScoringPass feeds every address classified Clean through the Smart
// Filter Engine and writes the four priority-tier files plus the exclusion
// report.
func runScoringPass(ctx context.Context, deps *bootstrap.Dependencies, batch domain.BatchResult) error {
	if len(batch.CleanAddresses) == 0 {
		return nil
	}

	metadata := map[domain.Address]*domain.Metadata{}
	if deps.MetadataStore != nil {
		m, err := deps.MetadataStore.BulkGet(ctx, batch.CleanAddresses)
		if err != nil {
			return err
		}
		metadata = m
	}

	tiers := deps.FilterEngine.Run(batch.CleanAddresses, metadata)

	var allResults []domain.ScoreResult
	for _, priority := range []domain.Priority{domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow, domain.PriorityExcluded} {
		results := tiers[priority]
		allResults = append(allResults, results...)
		if len(results) == 0 {
			continue
		}
		if _, err := deps.Writer.WriteScoreResultFile("qualify", priority, results); err != nil {
			return err
		}
	}

	if _, err := deps.Writer.WriteExclusionReport("qualify", allResults); err != nil {
		return err
	}
	return nil
}
