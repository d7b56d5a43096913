// Package worker implements the claim-and-run loop of one worker.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/lease"
	"github.com/loferreiranuno/momarq-crawler/internal/metrics"
	"github.com/loferreiranuno/momarq-crawler/internal/runner"
)

// DefaultPollInterval is how long a worker sleeps when no job is
// claimable.
const DefaultPollInterval = 5 * time.Second

// Worker repeatedly claims a job and runs it to completion. Mutual
// exclusion comes from the lease, never from coordination between
// workers.
type Worker struct {
	leases       *lease.Manager
	runner       *runner.Runner
	pollInterval time.Duration
	logger       *zap.Logger
}

// New constructs a Worker.
func New(leases *lease.Manager, r *runner.Runner, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		leases:       leases,
		runner:       r,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run blocks, claiming and executing jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	log := w.logger.With(zap.String("worker_id", w.leases.WorkerID()))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.leases.Claim(ctx)
		if errors.Is(err, crawler.ErrNoJob) {
			if !sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed", zap.Error(err))
			if !sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}

		log.Info("job claimed",
			zap.String("job_id", job.ID),
			zap.String("provider_id", job.ProviderID))
		metrics.IncActiveJobs()
		runErr := w.runner.Run(ctx, job)
		metrics.DecActiveJobs()
		if runErr != nil && ctx.Err() == nil {
			log.Error("job run aborted", zap.String("job_id", job.ID), zap.Error(runErr))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
