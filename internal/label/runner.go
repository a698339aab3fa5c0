// Package label implements the candidate-selection→process pipeline that
// grades stored items through the labeling service.
package label

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shelfminer/shelfminer/internal/catalog"
	"github.com/shelfminer/shelfminer/internal/jobs"
	"github.com/shelfminer/shelfminer/internal/metrics"
)

// minStoredImages is the threshold under which an item's gallery is
// refreshed via the page extractor before labeling.
const minStoredImages = 2

// Runner executes label jobs with a single worker. Every failure is
// per-item; labeling has no fatal escalation distinct from cancellation.
type Runner struct {
	jobs      jobs.Store
	catalog   jobs.CatalogStore
	extractor jobs.Extractor
	labeler   jobs.Labeler
	clock     jobs.Clock
	logger    *zap.Logger
	poll      time.Duration
}

// New constructs a Runner. poll overrides the control loop interval; zero
// means the 1s default.
func New(
	jobStore jobs.Store,
	catalogStore jobs.CatalogStore,
	extractor jobs.Extractor,
	labeler jobs.Labeler,
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
		extractor: extractor,
		labeler:   labeler,
		clock:     clock,
		logger:    logger,
		poll:      poll,
	}
}

// Run executes one label job to a terminal state.
func (r *Runner) Run(ctx context.Context, rec jobs.Record) error {
	var cfg jobs.LabelConfig
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
		return fmt.Errorf("mark label job running: %w", err)
	}
	log := r.logger.With(zap.String("job_id", rec.ID))

	candidates, err := r.catalog.UnlabeledItems(ctx, cfg.Limit)
	if err != nil {
		return r.fail(ctx, rec.ID, fmt.Sprintf("select unlabeled items: %v", err))
	}
	// The total is fixed once, before the loop begins.
	if err := r.jobs.SetTotal(ctx, rec.ID, len(candidates)); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
		log.Warn("total counter update failed", zap.Error(err))
	}
	log.Info("label job starting", zap.Int("candidates", len(candidates)))

	gate := jobs.NewGate(r.jobs, rec.ID, r.poll)
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	for _, item := range candidates {
		if err := gate.Await(ctx); err != nil {
			if errors.Is(err, jobs.ErrCancelled) {
				log.Info("label job cancelled")
				return nil
			}
			return r.fail(ctx, rec.ID, err.Error())
		}
		r.processItem(ctx, rec.ID, cfg, item, log)
	}

	current, err := r.jobs.GetJob(ctx, rec.ID)
	if err != nil || (current.Status != jobs.StatusRunning && current.Status != jobs.StatusPaused) {
		return nil
	}
	if err := r.jobs.MarkFinished(ctx, rec.ID, jobs.StatusCompleted, "", r.clock.Now()); err != nil {
		return fmt.Errorf("mark label job completed: %w", err)
	}
	metrics.ObserveJobFinished(string(jobs.KindLabel), string(jobs.StatusCompleted))
	log.Info("label job completed",
		zap.Int("processed", current.Processed),
		zap.Int("failed", current.Failed))
	return nil
}

// processItem grades a single item: reuse the stored gallery when it holds
// at least two images, otherwise refresh via the extractor first.
func (r *Runner) processItem(ctx context.Context, jobID string, cfg jobs.LabelConfig, item catalog.Item, log *zap.Logger) {
	images, err := r.catalog.ItemImages(ctx, item.ID)
	if err != nil {
		r.recordFailure(ctx, jobID, item.ID, err, log)
		return
	}

	urls := imageURLs(images)
	if len(urls) < minStoredImages {
		scraped, exErr := r.extractor.Extract(ctx, item.URL)
		if exErr != nil {
			r.recordFailure(ctx, jobID, item.ID, exErr, log)
			return
		}
		if perr := r.catalog.UpsertScraped(ctx, scraped, r.clock.Now()); perr != nil {
			r.recordFailure(ctx, jobID, item.ID, perr, log)
			return
		}
		urls = scraped.ImageURLs
	}

	urls = distinct(urls)
	if len(urls) > cfg.MaxImages {
		urls = urls[:cfg.MaxImages]
	}
	if len(urls) == 0 {
		r.recordFailure(ctx, jobID, item.ID, errors.New("no images available"), log)
		return
	}

	start := r.clock.Now()
	verdict, err := r.labeler.Label(ctx, item.URL, urls)
	metrics.ObserveLabelRequest(r.clock.Now().Sub(start))
	if err != nil {
		r.recordFailure(ctx, jobID, item.ID, err, log)
		return
	}

	labelRow := catalog.Label{
		ItemID:    item.ID,
		Grade:     verdict.Grade,
		Reason:    verdict.Reason,
		Extracted: verdict.Extracted,
		UpdatedAt: r.clock.Now(),
	}
	if err := r.catalog.UpsertLabel(ctx, labelRow); err != nil {
		r.recordFailure(ctx, jobID, item.ID, err, log)
		return
	}
	if err := r.jobs.AddProgress(ctx, jobID, 1, 0, ""); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
		log.Warn("processed counter update failed", zap.Error(err))
	}
	metrics.ObserveItemProcessed(string(jobs.KindLabel))
	log.Debug("item labeled", zap.String("item_id", item.ID), zap.String("grade", string(verdict.Grade)))
}

func (r *Runner) recordFailure(ctx context.Context, jobID, itemID string, cause error, log *zap.Logger) {
	log.Warn("item labeling failed", zap.String("item_id", itemID), zap.Error(cause))
	if err := r.jobs.AddProgress(ctx, jobID, 0, 1, cause.Error()); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
		log.Warn("failed counter update failed", zap.Error(err))
	}
	metrics.ObserveItemFailed(string(jobs.KindLabel))
}

func (r *Runner) fail(ctx context.Context, jobID, reason string) error {
	if err := r.jobs.MarkFinished(ctx, jobID, jobs.StatusFailed, reason, r.clock.Now()); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("mark label job failed: %w", err)
	}
	metrics.ObserveJobFinished(string(jobs.KindLabel), string(jobs.StatusFailed))
	return nil
}

func imageURLs(images []catalog.ItemImage) []string {
	urls := make([]string, 0, len(images))
	for _, img := range images {
		urls = append(urls, img.URL)
	}
	return urls
}

func distinct(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0:0]
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
