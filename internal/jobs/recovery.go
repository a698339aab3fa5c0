package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Recovery re-arms jobs left in a non-terminal state by a prior process
// lifetime. Run once at boot. Recovery is restart-from-configuration, not
// checkpoint-resume: the relaunched loop rebuilds its dedup set and queue
// from scratch and relies on idempotent upserts for durability.
type Recovery struct {
	store    Store
	launcher *Launcher
	logger   *zap.Logger
}

// NewRecovery constructs the scheduler.
func NewRecovery(store Store, launcher *Launcher, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{store: store, launcher: launcher, logger: logger}
}

// Run inspects each job kind independently and relaunches at most one job
// per kind: the most recently created record whose finished_at is null and
// whose status is still active.
func (r *Recovery) Run(ctx context.Context) error {
	for _, kind := range []Kind{KindCrawl, KindLabel} {
		rec, ok, err := r.store.LatestUnfinished(ctx, kind)
		if err != nil {
			return fmt.Errorf("scan %s jobs for recovery: %w", kind, err)
		}
		if !ok {
			continue
		}
		if err := r.store.SetStatus(ctx, rec.ID, StatusQueued); err != nil {
			return fmt.Errorf("reset %s job %s to queued: %w", kind, rec.ID, err)
		}
		r.logger.Info("re-arming interrupted job",
			zap.String("job_id", rec.ID),
			zap.String("kind", string(kind)),
			zap.String("previous_status", string(rec.Status)))
		r.launcher.Launch(rec.ID, kind)
	}
	return nil
}
