package reaper

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/docspark/api/internal/metrics"
	"github.com/docspark/api/internal/model"
	"github.com/docspark/api/internal/store"
)

// Jobs is the part of the conversion service the reaper drives.
type Jobs interface {
	Expired(ctx context.Context, now time.Time) ([]*model.Job, error)
	Reclaim(ctx context.Context, job *model.Job) error
}

// Sweeper prunes expired auxiliary state, such as abuse counters.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

type Result struct {
	Deleted int
	Failed  int
}

// Reaper deletes jobs past their TTL on a cron schedule.
type Reaper struct {
	jobs     Jobs
	sweepers []Sweeper
	schedule string
	cron     *cron.Cron
	now      func() time.Time
	logger   *zap.Logger
	group    singleflight.Group
}

func New(jobs Jobs, schedule string, logger *zap.Logger, sweepers ...Sweeper) *Reaper {
	return &Reaper{
		jobs:     jobs,
		sweepers: sweepers,
		schedule: schedule,
		cron:     cron.New(),
		now:      time.Now,
		logger:   logger.Named("reaper"),
	}
}

// Sweep reclaims every expired job once. A failure on one job is logged and
// counted; the rest of the sweep continues. Concurrent callers share a
// single running sweep.
func (r *Reaper) Sweep(ctx context.Context) Result {
	v, _, _ := r.group.Do("sweep", func() (any, error) {
		return r.sweep(ctx), nil
	})
	return v.(Result)
}

func (r *Reaper) sweep(ctx context.Context) Result {
	var res Result

	expired, err := r.jobs.Expired(ctx, r.now())
	if err != nil {
		r.logger.Error("failed to list expired jobs", zap.Error(err))
		metrics.ReaperFailures.Inc()
		res.Failed++
		return res
	}

	for _, job := range expired {
		if err := r.jobs.Reclaim(ctx, job); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("failed to reclaim job", zap.String("jobId", job.ID), zap.Error(err))
			metrics.ReaperFailures.Inc()
			res.Failed++
			continue
		}
		metrics.ReaperDeleted.Inc()
		res.Deleted++
	}

	if res.Deleted > 0 || res.Failed > 0 {
		r.logger.Info("sweep finished", zap.Int("deleted", res.Deleted), zap.Int("failed", res.Failed))
	}
	return res
}

// prune runs the auxiliary sweepers.
func (r *Reaper) prune(ctx context.Context) {
	for _, s := range r.sweepers {
		if err := s.Sweep(ctx); err != nil {
			r.logger.Warn("failed to prune abuse state", zap.Error(err))
		}
	}
}

// Start registers the sweep on the schedule and starts the scheduler.
func (r *Reaper) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		r.Sweep(ctx)
		r.prune(ctx)
	}); err != nil {
		return errors.Wrapf(err, "invalid reaper schedule %q", r.schedule)
	}
	r.cron.Start()
	r.logger.Info("reaper started", zap.String("schedule", r.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}
