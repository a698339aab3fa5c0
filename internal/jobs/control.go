package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrCancelled signals that a job's record vanished or its status diverged
// from {running, paused}. The loop that observes it unwinds without writing
// any terminal status; whatever the external actor set stands.
var ErrCancelled = errors.New("job cancelled")

// DefaultPollInterval is how often a paused job re-reads its status, and the
// upper bound on pause/cancel reaction latency.
const DefaultPollInterval = time.Second

// Gate is the control loop checked before every unit of work. It reads the
// job's current status from the store and realizes pause (block), cancel
// (abort), or proceed.
type Gate struct {
	store    Store
	jobID    string
	interval time.Duration
}

// NewGate builds a Gate for one job. A non-positive interval falls back to
// DefaultPollInterval.
func NewGate(store Store, jobID string, interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Gate{store: store, jobID: jobID, interval: interval}
}

// Await blocks while the job is paused and returns nil once it is running.
// It returns ErrCancelled when the record is missing, the status left
// {running, paused}, or the context ended. Any other store error is
// propagated for the caller to classify as fatal.
func (g *Gate) Await(ctx context.Context) error {
	for {
		rec, err := g.store.GetJob(ctx, g.jobID)
		switch {
		case errors.Is(err, ErrJobNotFound):
			return ErrCancelled
		case err != nil:
			if ctx.Err() != nil {
				return ErrCancelled
			}
			return err
		}

		switch rec.Status {
		case StatusRunning:
			return nil
		case StatusPaused:
			timer := time.NewTimer(g.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ErrCancelled
			case <-timer.C:
			}
		default:
			return ErrCancelled
		}
	}
}
