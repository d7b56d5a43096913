package strategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

func TestCollyFetcherSpacesRequestsToSameHost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	const delay = 200 * time.Millisecond
	f := NewCollyFetcher(5*time.Second, zap.NewNop())
	cfg := crawler.Config{RequestDelay: delay, UserAgent: "test-agent"}
	ctx := context.Background()

	// The first request spends the burst token; the second must wait
	// out the configured delay.
	_, err := f.Fetch(ctx, srv.URL+"/a", cfg)
	require.NoError(t, err)

	start := time.Now()
	page, err := f.Fetch(ctx, srv.URL+"/b", cfg)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), delay-50*time.Millisecond)
}

func TestCollyFetcherNoDelayConfigured(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewCollyFetcher(5*time.Second, zap.NewNop())
	cfg := crawler.Config{UserAgent: "test-agent"}
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(ctx, srv.URL, cfg)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCollyFetcherCanceledDuringWait(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewCollyFetcher(5*time.Second, zap.NewNop())
	cfg := crawler.Config{RequestDelay: time.Minute, UserAgent: "test-agent"}

	// Spend the burst token so the next fetch has to wait.
	_, err := f.Fetch(context.Background(), srv.URL, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, srv.URL, cfg)
	require.Error(t, err)
}