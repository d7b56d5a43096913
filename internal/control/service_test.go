package control

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
	"github.com/loferreiranuno/momarq-crawler/internal/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, system.New(), uuid.New(), zap.NewNop()), store
}

func TestCreateValidates(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateJobParams
	}{
		{"missing provider", CreateJobParams{StartURL: "https://shop.test"}},
		{"missing start url", CreateJobParams{ProviderID: "p1"}},
		{"relative start url", CreateJobParams{ProviderID: "p1", StartURL: "/products"}},
		{"bad scheme", CreateJobParams{ProviderID: "p1", StartURL: "ftp://shop.test"}},
		{"bad sitemap", CreateJobParams{ProviderID: "p1", StartURL: "https://shop.test", SitemapURL: "nope"}},
		{"negative max pages", CreateJobParams{ProviderID: "p1", StartURL: "https://shop.test", MaxPages: -1}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Create(ctx, tc.params)
			require.Error(t, err)
		})
	}
}

func TestCreateEnqueuesJob(t *testing.T) {
	t.Parallel()

	svc, store := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, CreateJobParams{
		ProviderID: "prov-1",
		StartURL:   "https://shop.test",
		SitemapURL: "https://shop.test/sitemap.xml",
		MaxPages:   500,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, crawler.JobStatusQueued, job.Status)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, stored)
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	svc, store := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, CreateJobParams{ProviderID: "p1", StartURL: "https://shop.test"})
	require.NoError(t, err)

	// Pause requires a running job.
	assert.ErrorIs(t, svc.Pause(ctx, job.ID), crawler.ErrInvalidTransition)

	_, err = store.ClaimJob(ctx, "w1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, svc.Pause(ctx, job.ID))
	require.NoError(t, svc.Resume(ctx, job.ID))
	require.NoError(t, svc.Cancel(ctx, job.ID))

	// Terminal jobs accept no further transitions.
	assert.ErrorIs(t, svc.Cancel(ctx, job.ID), crawler.ErrInvalidTransition)
	assert.ErrorIs(t, svc.Resume(ctx, job.ID), crawler.ErrInvalidTransition)
}

func TestRetryClonesTerminalJob(t *testing.T) {
	t.Parallel()

	svc, store := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, CreateJobParams{
		ProviderID: "p1", StartURL: "https://shop.test", MaxPages: 50,
	})
	require.NoError(t, err)

	// Queued jobs are not retryable.
	_, err = svc.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, crawler.ErrInvalidTransition)

	_, err = store.ClaimJob(ctx, "w1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.FinishJob(ctx, job.ID, "w1", crawler.JobStatusFailed, "boom"))

	clone, err := svc.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, clone.ID)
	assert.Equal(t, crawler.JobStatusQueued, clone.Status)
	assert.Equal(t, job.ProviderID, clone.ProviderID)
	assert.Equal(t, job.StartURL, clone.StartURL)
	assert.Equal(t, job.MaxPages, clone.MaxPages)
	assert.Empty(t, clone.ErrorMessage)

	// The original keeps its failed record.
	orig, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusFailed, orig.Status)
}

func TestRetryRejectsSucceededJob(t *testing.T) {
	t.Parallel()

	svc, store := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, CreateJobParams{
		ProviderID: "p1", StartURL: "https://shop.test",
	})
	require.NoError(t, err)
	_, err = store.ClaimJob(ctx, "w1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.FinishJob(ctx, job.ID, "w1", crawler.JobStatusSucceeded, ""))

	_, err = svc.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, crawler.ErrInvalidTransition)
}

func TestDeleteGuardsActiveJobs(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, CreateJobParams{ProviderID: "p1", StartURL: "https://shop.test"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, job.ID), crawler.ErrJobActive)

	require.NoError(t, svc.Cancel(ctx, job.ID))
	require.NoError(t, svc.Delete(ctx, job.ID))
	_, err = svc.Get(ctx, job.ID)
	assert.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestPagesAndProductsRequireJob(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Pages(ctx, "missing")
	assert.ErrorIs(t, err, crawler.ErrJobNotFound)
	_, err = svc.Products(ctx, "missing")
	assert.ErrorIs(t, err, crawler.ErrJobNotFound)
}
