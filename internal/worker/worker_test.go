package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/clock/system"
	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/id/uuid"
	"github.com/loferreiranuno/momarq-crawler/internal/lease"
	"github.com/loferreiranuno/momarq-crawler/internal/runner"
	"github.com/loferreiranuno/momarq-crawler/internal/storage/memory"
)

type instantConfigs struct{}

func (instantConfigs) ConfigForProvider(context.Context, string) (crawler.Config, error) {
	return crawler.Config{MaxConcurrency: 1}, nil
}

type singlePageStrategy struct{}

func (singlePageStrategy) DiscoverURLs(_ context.Context, startURL, _ string, _ crawler.Config) ([]string, error) {
	return []string{startURL}, nil
}

func (singlePageStrategy) FetchAndExtract(_ context.Context, rawURL string, _ crawler.Config) crawler.FetchResult {
	return crawler.FetchResult{Success: true, HTTPStatus: 200, ContentHash: "h", Body: []byte("<html/>")}
}

func newWorker(store *memory.Store, id string) *Worker {
	leases := lease.NewManager(store, system.New(), id, time.Minute, zap.NewNop())
	r := runner.New(store, instantConfigs{},
		map[string]crawler.Strategy{runner.DefaultStrategyKind: singlePageStrategy{}},
		leases, system.New(), uuid.New(), runner.Options{}, zap.NewNop())
	return New(leases, r, 10*time.Millisecond, zap.NewNop())
}

func TestPoolDrainsQueuedJobs(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, store.CreateJob(ctx, crawler.CrawlJob{
			ID:         string(rune('a' + i)),
			ProviderID: "prov-1",
			StartURL:   "https://shop.test",
			Status:     crawler.JobStatusQueued,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	pool := NewPool([]*Worker{
		newWorker(store, "w1"),
		newWorker(store, "w2"),
		newWorker(store, "w3"),
	})

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stats, err := store.CountJobs(context.Background())
		return err == nil && stats.Succeeded == 6
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}

	stats, err := store.CountJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Succeeded)
	assert.Zero(t, stats.Queued)
	assert.Zero(t, stats.Running)
}

func TestWorkerStopsWhenIdle(t *testing.T) {
	t.Parallel()

	store := memory.New()
	w := newWorker(store, "w1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
