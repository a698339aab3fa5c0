package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner executes one job to its terminal state. Implementations classify
// their own failures; Launch only catches what escapes.
type Runner interface {
	Run(ctx context.Context, rec Record) error
}

// Launcher schedules job execution asynchronously: create-job returns
// immediately and the loop starts after a short delay, per the control
// surface contract.
type Launcher struct {
	store   Store
	runners map[Kind]Runner
	delay   time.Duration
	base    context.Context
	logger  *zap.Logger
}

// NewLauncher wires runners per kind. base is the process-lifetime context;
// jobs deliberately outlive the HTTP request that created them.
func NewLauncher(base context.Context, store Store, runners map[Kind]Runner, delay time.Duration, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if base == nil {
		base = context.Background()
	}
	return &Launcher{
		store:   store,
		runners: runners,
		delay:   delay,
		base:    base,
		logger:  logger,
	}
}

// Launch fires the job's execution loop in the background.
func (l *Launcher) Launch(jobID string, kind Kind) {
	runner, ok := l.runners[kind]
	if !ok {
		l.logger.Error("no runner registered for job kind",
			zap.String("job_id", jobID), zap.String("kind", string(kind)))
		return
	}
	go func() {
		if l.delay > 0 {
			timer := time.NewTimer(l.delay)
			select {
			case <-l.base.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		rec, err := l.store.GetJob(l.base, jobID)
		if err != nil {
			// Gone before it started; treat as cancelled.
			l.logger.Warn("job vanished before launch", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		if err := runner.Run(l.base, rec); err != nil {
			l.logger.Error("job run failed",
				zap.String("job_id", jobID),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}()
}
