package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"requestDelayMs": 1500,
		"maxConcurrency": 4,
		"respectRobotsTxt": true,
		"userAgent": "momarq-test/2.0",
		"productContainerSelector": ".product-card",
		"productNameSelector": ".title",
		"productPriceSelector": ".price",
		"includePatterns": ["/products/"],
		"excludePatterns": ["\\?page=", "/outlet/"],
		"customSettings": {"sitemapUrl": "https://shop.test/custom.xml"}
	}`)

	cfg, err := ParseConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.RequestDelay)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.True(t, cfg.RespectRobots)
	assert.Equal(t, "momarq-test/2.0", cfg.UserAgent)
	assert.Equal(t, ".product-card", cfg.ContainerSelector)
	assert.Len(t, cfg.IncludePatterns, 1)
	assert.Len(t, cfg.ExcludePatterns, 2)
	assert.Equal(t, "https://shop.test/custom.xml", cfg.Setting("sitemapUrl", ""))
}

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.RequestDelay)
	assert.Equal(t, 1, cfg.MaxConcurrency)
	assert.False(t, cfg.RespectRobots)
	assert.Equal(t, "momarq-catalog-bot/1.0", cfg.UserAgent)
	assert.Equal(t, "fallback", cfg.Setting("missing", "fallback"))
}

func TestParseConfigRejectsBadPattern(t *testing.T) {
	t.Parallel()

	_, err := ParseConfig([]byte(`{"includePatterns": ["["]}`))
	require.Error(t, err)
}

func TestFilterURLsExcludeBeatsInclude(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{
		"includePatterns": ["/products/"],
		"excludePatterns": ["/products/discontinued/"]
	}`))
	require.NoError(t, err)

	got := cfg.FilterURLs([]string{
		"https://shop.test/products/sofa",
		"https://shop.test/products/discontinued/old-sofa",
		"https://shop.test/blog/news",
	})
	assert.Equal(t, []string{"https://shop.test/products/sofa"}, got)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusRunning, JobStatusPaused, true},
		{JobStatusPaused, JobStatusQueued, true},
		{JobStatusQueued, JobStatusCanceled, true},
		{JobStatusRunning, JobStatusCanceled, true},
		{JobStatusQueued, JobStatusPaused, false},
		{JobStatusPaused, JobStatusCanceled, false},
		{JobStatusSucceeded, JobStatusQueued, false},
		{JobStatusFailed, JobStatusCanceled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
