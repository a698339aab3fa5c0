// Package crawl implements the discovery→queue→worker pipeline that
// populates the catalog from a listing surface.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shelfminer/shelfminer/internal/catalog"
	"github.com/shelfminer/shelfminer/internal/jobs"
	"github.com/shelfminer/shelfminer/internal/metrics"
)

// ListingSession is one navigable pass over the listing surface. The session
// accumulates candidates from its discovery strategies between Harvest calls.
type ListingSession interface {
	// CheckAccess returns catalog.ErrHardBlock when the listing's visible
	// text carries a challenge marker.
	CheckAccess(ctx context.Context) error
	// Harvest drains the candidates observed since the previous call.
	Harvest(ctx context.Context) ([]catalog.Candidate, error)
	// Advance performs one scroll iteration and reports whether the listing
	// still grows.
	Advance(ctx context.Context) (bool, error)
	Close(ctx context.Context) error
}

// ListingSource opens listing sessions. One session serves one job run.
type ListingSource interface {
	Open(ctx context.Context, listingURL string) (ListingSession, error)
}

// Runner executes crawl jobs: it drives the discovery producer, fans a
// bounded worker pool out over the work queue, and derives the terminal
// status from the two-tier failure model.
type Runner struct {
	jobs      jobs.Store
	catalog   jobs.CatalogStore
	source    ListingSource
	extractor jobs.Extractor
	clock     jobs.Clock
	logger    *zap.Logger
	poll      time.Duration
}

// New constructs a Runner. poll overrides the control loop interval; zero
// means the 1s default.
func New(
	jobStore jobs.Store,
	catalogStore jobs.CatalogStore,
	source ListingSource,
	extractor jobs.Extractor,
	clock jobs.Clock,
	logger *zap.Logger,
	poll time.Duration,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		jobs:      jobStore,
		catalog:   catalogStore,
		source:    source,
		extractor: extractor,
		clock:     clock,
		logger:    logger,
		poll:      poll,
	}
}

// Run executes one crawl job to a terminal state. It returns an error only
// for faults that escaped classification; cancellation unwinds silently.
func (r *Runner) Run(ctx context.Context, rec jobs.Record) error {
	var cfg jobs.CrawlConfig
	if err := jobs.DecodeConfig(rec, &cfg); err != nil {
		return r.fail(ctx, rec.ID, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return r.fail(ctx, rec.ID, err.Error())
	}

	if err := r.jobs.MarkRunning(ctx, rec.ID, r.clock.Now()); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("mark crawl job running: %w", err)
	}
	log := r.logger.With(zap.String("job_id", rec.ID))
	log.Info("crawl job starting", zap.String("listing_url", cfg.ListingURL))

	session, err := r.source.Open(ctx, cfg.ListingURL)
	if err != nil {
		return r.fail(ctx, rec.ID, fmt.Sprintf("open listing: %v", err))
	}
	defer func() {
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("listing session close failed", zap.Error(cerr))
		}
	}()

	// Hard-block check happens before any worker is spawned.
	if err := session.CheckAccess(ctx); err != nil {
		if errors.Is(err, catalog.ErrHardBlock) {
			log.Warn("listing is hard blocked")
			return r.fail(ctx, rec.ID, "hard block")
		}
		return r.fail(ctx, rec.ID, fmt.Sprintf("listing access check: %v", err))
	}

	gate := jobs.NewGate(r.jobs, rec.ID, r.poll)
	queue := jobs.NewQueue[catalog.Candidate]()
	var hardBlocked atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.consume(ctx, rec.ID, cfg, gate, queue, &hardBlocked, log)
		}()
	}

	prodErr := r.produce(ctx, rec.ID, cfg, gate, session, queue, log)
	queue.Close()
	wg.Wait()

	switch {
	case errors.Is(prodErr, jobs.ErrCancelled):
		log.Info("crawl job cancelled")
		return nil
	case hardBlocked.Load():
		// A worker already wrote the terminal failure.
		return nil
	case prodErr != nil:
		return r.fail(ctx, rec.ID, prodErr.Error())
	}

	// A worker may have been cancelled after the producer finished cleanly;
	// only a still-active job gets the completed status.
	current, err := r.jobs.GetJob(ctx, rec.ID)
	if err != nil || (current.Status != jobs.StatusRunning && current.Status != jobs.StatusPaused) {
		return nil
	}
	if err := r.jobs.MarkFinished(ctx, rec.ID, jobs.StatusCompleted, "", r.clock.Now()); err != nil {
		return fmt.Errorf("mark crawl job completed: %w", err)
	}
	metrics.ObserveJobFinished(string(jobs.KindCrawl), string(jobs.StatusCompleted))
	log.Info("crawl job completed",
		zap.Int("discovered", current.Total),
		zap.Int("processed", current.Processed),
		zap.Int("failed", current.Failed))
	return nil
}

// produce drives the listing session: one gate check, harvest, dedup,
// persist, and queue push per scroll iteration, until the discovery cap or
// the scroll budget is exhausted.
func (r *Runner) produce(
	ctx context.Context,
	jobID string,
	cfg jobs.CrawlConfig,
	gate *jobs.Gate,
	session ListingSession,
	queue *jobs.Queue[catalog.Candidate],
	log *zap.Logger,
) error {
	seen := newDedupSet()
	for iter := 0; iter < cfg.MaxScrolls && seen.Size() < cfg.MaxItems; iter++ {
		if err := gate.Await(ctx); err != nil {
			return err
		}

		batch, err := session.Harvest(ctx)
		if err != nil {
			return fmt.Errorf("harvest candidates: %w", err)
		}
		fresh, enriched := seen.Absorb(batch)

		// Discovery progress is persisted before scraping so it survives a
		// later failure. Enrichment re-upserts fill missing fields only.
		now := r.clock.Now()
		for _, c := range append(fresh, enriched...) {
			if err := r.catalog.UpsertCandidate(ctx, c, now); err != nil {
				log.Warn("candidate upsert failed", zap.String("item_id", c.ID), zap.Error(err))
			}
		}
		if len(fresh) > 0 {
			if err := r.jobs.AddDiscovered(ctx, jobID, len(fresh)); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
				log.Warn("discovered counter update failed", zap.Error(err))
			}
			queue.Push(fresh...)
			log.Debug("discovery batch queued", zap.Int("fresh", len(fresh)), zap.Int("total", seen.Size()))
		}

		more, err := session.Advance(ctx)
		if err != nil {
			return fmt.Errorf("advance listing: %w", err)
		}
		if !more {
			break
		}
	}
	return nil
}

// consume is one worker: gate check, take, extract, persist, count. A hard
// block fails the whole job; any other failure is per-item.
func (r *Runner) consume(
	ctx context.Context,
	jobID string,
	cfg jobs.CrawlConfig,
	gate *jobs.Gate,
	queue *jobs.Queue[catalog.Candidate],
	hardBlocked *atomic.Bool,
	log *zap.Logger,
) {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	var limiter *rate.Limiter
	if cfg.ItemDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.ItemDelay), 1)
	}

	for {
		if err := gate.Await(ctx); err != nil {
			// Cancellation exits silently; a store fault is logged and
			// treated the same way, the job resolves elsewhere.
			if !errors.Is(err, jobs.ErrCancelled) {
				log.Warn("worker control check failed", zap.Error(err))
			}
			return
		}
		if hardBlocked.Load() {
			return
		}
		cand, ok := queue.Take()
		if !ok {
			return
		}

		scraped, err := r.extractor.Extract(ctx, cand.URL)
		switch {
		case errors.Is(err, catalog.ErrHardBlock):
			if hardBlocked.CompareAndSwap(false, true) {
				log.Warn("hard block during scrape, failing job", zap.String("url", cand.URL))
				if ferr := r.jobs.MarkFinished(ctx, jobID, jobs.StatusFailed, "hard block", r.clock.Now()); ferr != nil && !errors.Is(ferr, jobs.ErrJobNotFound) {
					log.Error("hard block status write failed", zap.Error(ferr))
				}
				metrics.ObserveJobFinished(string(jobs.KindCrawl), string(jobs.StatusFailed))
			}
			return
		case err != nil:
			r.recordItemFailure(ctx, jobID, cand.ID, err, log)
		default:
			if perr := r.catalog.UpsertScraped(ctx, scraped, r.clock.Now()); perr != nil {
				r.recordItemFailure(ctx, jobID, cand.ID, perr, log)
			} else {
				if aerr := r.jobs.AddProgress(ctx, jobID, 1, 0, ""); aerr != nil && !errors.Is(aerr, jobs.ErrJobNotFound) {
					log.Warn("processed counter update failed", zap.Error(aerr))
				}
				metrics.ObserveItemProcessed(string(jobs.KindCrawl))
			}
		}

		if limiter != nil {
			if werr := limiter.Wait(ctx); werr != nil {
				return
			}
		}
	}
}

func (r *Runner) recordItemFailure(ctx context.Context, jobID, itemID string, cause error, log *zap.Logger) {
	log.Warn("item scrape failed", zap.String("item_id", itemID), zap.Error(cause))
	if err := r.jobs.AddProgress(ctx, jobID, 0, 1, cause.Error()); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
		log.Warn("failed counter update failed", zap.Error(err))
	}
	metrics.ObserveItemFailed(string(jobs.KindCrawl))
}

func (r *Runner) fail(ctx context.Context, jobID, reason string) error {
	if err := r.jobs.MarkFinished(ctx, jobID, jobs.StatusFailed, reason, r.clock.Now()); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("mark crawl job failed: %w", err)
	}
	metrics.ObserveJobFinished(string(jobs.KindCrawl), string(jobs.StatusFailed))
	return nil
}
