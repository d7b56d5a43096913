// Package lease arbitrates exclusive job ownership between workers.
package lease

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/metrics"
)

// DefaultDuration is how long a claim remains exclusive without renewal.
const DefaultDuration = 2 * time.Minute

// Manager claims, renews and releases job leases for one worker. A job
// whose lease lapses becomes claimable by any other worker, so a
// crashed worker's job is picked up without operator action.
type Manager struct {
	store    crawler.JobStore
	clock    crawler.Clock
	workerID string
	duration time.Duration
	logger   *zap.Logger
}

// NewManager constructs a lease manager for workerID.
func NewManager(store crawler.JobStore, clock crawler.Clock, workerID string, duration time.Duration, logger *zap.Logger) *Manager {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		clock:    clock,
		workerID: workerID,
		duration: duration,
		logger:   logger,
	}
}

// WorkerID returns the owner identity used for claims.
func (m *Manager) WorkerID() string { return m.workerID }

// Claim attempts to take the oldest claimable job. It returns
// crawler.ErrNoJob when nothing is available.
func (m *Manager) Claim(ctx context.Context) (crawler.CrawlJob, error) {
	return m.store.ClaimJob(ctx, m.workerID, m.clock.Now().Add(m.duration))
}

// Renew extends the lease on a held job. It reports false once
// ownership was lost to another worker.
func (m *Manager) Renew(ctx context.Context, jobID string) (bool, error) {
	return m.store.RenewLease(ctx, jobID, m.workerID, m.clock.Now().Add(m.duration))
}

// Release finishes the job with the given status and clears the lease.
func (m *Manager) Release(ctx context.Context, jobID string, status crawler.JobStatus, errMsg string) error {
	if err := m.store.FinishJob(ctx, jobID, m.workerID, status, errMsg); err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	return nil
}

// Heartbeat renews the lease on jobID until ctx is canceled or the
// lease is lost, in which case onLost fires once. It blocks; run it in
// its own goroutine.
func (m *Manager) Heartbeat(ctx context.Context, jobID string, onLost func()) {
	interval := m.duration / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.Renew(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.ObserveLeaseRenewal("error")
				m.logger.Warn("lease renewal failed",
					zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			if !ok {
				metrics.ObserveLeaseRenewal("lost")
				m.logger.Warn("lease lost",
					zap.String("job_id", jobID), zap.String("worker_id", m.workerID))
				if onLost != nil {
					onLost()
				}
				return
			}
			metrics.ObserveLeaseRenewal("renewed")
		}
	}
}
