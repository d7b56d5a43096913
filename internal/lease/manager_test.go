package lease

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestManagerClaimIsExclusive(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.CreateJob(ctx, crawler.CrawlJob{
		ID: "job-1", Status: crawler.JobStatusQueued, CreatedAt: now,
	}))

	m1 := NewManager(store, fixedClock{now}, "w1", time.Minute, zap.NewNop())
	m2 := NewManager(store, fixedClock{now}, "w2", time.Minute, zap.NewNop())

	job, err := m1.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w1", job.LeaseOwner)

	_, err = m2.Claim(ctx)
	assert.ErrorIs(t, err, crawler.ErrNoJob)
}

func TestManagerReclaimAfterExpiry(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.CreateJob(ctx, crawler.CrawlJob{
		ID: "job-1", Status: crawler.JobStatusQueued, CreatedAt: now,
	}))

	// w1 claims with a clock far in the past, so its lease is already
	// expired from w2's point of view.
	m1 := NewManager(store, fixedClock{now.Add(-time.Hour)}, "w1", time.Minute, zap.NewNop())
	m2 := NewManager(store, fixedClock{now}, "w2", time.Minute, zap.NewNop())

	_, err := m1.Claim(ctx)
	require.NoError(t, err)

	job, err := m2.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w2", job.LeaseOwner)

	ok, err := m1.Renew(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerReleaseClearsLease(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.CreateJob(ctx, crawler.CrawlJob{
		ID: "job-1", Status: crawler.JobStatusQueued, CreatedAt: now,
	}))

	m := NewManager(store, fixedClock{now}, "w1", time.Minute, zap.NewNop())
	_, err := m.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, "job-1", crawler.JobStatusSucceeded, ""))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusSucceeded, job.Status)
	assert.Empty(t, job.LeaseOwner)
}

func TestHeartbeatFiresOnLostLease(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.CreateJob(ctx, crawler.CrawlJob{
		ID: "job-1", Status: crawler.JobStatusQueued, CreatedAt: now,
	}))

	m := NewManager(store, fixedClock{now}, "w1", 3*time.Second, zap.NewNop())
	_, err := m.Claim(ctx)
	require.NoError(t, err)

	// Another worker steals the job, so the next renewal must fail.
	require.NoError(t, store.FinishJob(ctx, "job-1", "w1", crawler.JobStatusFailed, "preempted"))

	var lost atomic.Bool
	done := make(chan struct{})
	go func() {
		m.Heartbeat(ctx, "job-1", func() { lost.Store(true) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat did not notice the lost lease")
	}
	assert.True(t, lost.Load())
}

func TestHeartbeatStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := memory.New()
	now := time.Now()
	m := NewManager(store, fixedClock{now}, "w1", time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Heartbeat(ctx, "job-1", nil)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop on cancel")
	}
}
