package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/clock/system"
	"github.com/loferreiranuno/momarq-crawler/internal/control"
	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/id/uuid"
	"github.com/loferreiranuno/momarq-crawler/internal/storage/memory"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctrl := control.New(store, system.New(), uuid.New(), zap.NewNop())
	return NewServer(ctrl, cfg, zap.NewNop()), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	assert.Equal(t, http.StatusOK, doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, srv.Handler(), http.MethodGet, "/readyz", nil).Code)
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", control.CreateJobParams{
		ProviderID: "prov-1",
		StartURL:   "https://shop.test",
		MaxPages:   100,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Job crawler.CrawlJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Job.ID)
	assert.Equal(t, crawler.JobStatusQueued, created.Job.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/"+created.Job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateJobValidationError(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", control.CreateJobParams{
		StartURL: "https://shop.test",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider_id")
}

func TestTransitionEndpoints(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, Config{})
	ctx := context.Background()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", control.CreateJobParams{
		ProviderID: "prov-1", StartURL: "https://shop.test",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Job crawler.CrawlJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	jobID := created.Job.ID

	// Pausing a queued job conflicts with the state machine.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+jobID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := store.ClaimJob(ctx, "w1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+jobID+"/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+jobID+"/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+jobID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Deleting now works; draft records are gone afterwards.
	rec = doJSON(t, srv.Handler(), http.MethodDelete, "/v1/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteActiveJobConflicts(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", control.CreateJobParams{
		ProviderID: "prov-1", StartURL: "https://shop.test",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Job crawler.CrawlJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, srv.Handler(), http.MethodDelete, "/v1/jobs/"+created.Job.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListJobsAndStats(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	for i := 0; i < 3; i++ {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", control.CreateJobParams{
			ProviderID: "prov-1", StartURL: "https://shop.test",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs?status=queued&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Jobs []crawler.CrawlJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Jobs, 2)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats crawler.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Queued)
}

func TestRetryEndpoint(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, Config{})
	ctx := context.Background()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", control.CreateJobParams{
		ProviderID: "prov-1", StartURL: "https://shop.test",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Job crawler.CrawlJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Not terminal yet.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+created.Job.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := store.ClaimJob(ctx, "w1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.FinishJob(ctx, created.Job.ID, "w1", crawler.JobStatusFailed, "boom"))

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/"+created.Job.ID+"/retry", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var cloned struct {
		Job crawler.CrawlJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cloned))
	assert.NotEqual(t, created.Job.ID, cloned.Job.ID)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{APIKey: "secret"})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	srv.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
}
