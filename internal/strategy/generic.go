// Package strategy implements the crawler strategy variants: a plain
// HTTP fetcher for static sites and a browser-rendered variant for
// JavaScript-heavy or bot-protected ones.
package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/discover"
	"github.com/loferreiranuno/momarq-crawler/internal/extract"
	"github.com/loferreiranuno/momarq-crawler/internal/hash/sha256"
)

// Strategy kind names used in provider configuration.
const (
	KindGeneric         = "generic"
	KindBrowserRendered = "browser"
)

// settingSitemapURL lets a provider override the sitemap location via
// custom settings.
const settingSitemapURL = "sitemapUrl"

// Generic crawls with plain HTTP fetches and HTML parsing.
type Generic struct {
	fetcher   pageFetcher
	resolver  *discover.Resolver
	extractor *extract.Extractor
	robots    func(cfg crawler.Config) RobotsPolicy
	logger    *zap.Logger
}

// NewGeneric constructs the generic strategy.
func NewGeneric(fetcher pageFetcher, resolver *discover.Resolver, extractor *extract.Extractor, logger *zap.Logger) *Generic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generic{
		fetcher:   fetcher,
		resolver:  resolver,
		extractor: extractor,
		robots: func(cfg crawler.Config) RobotsPolicy {
			return NewRobotsPolicy(cfg.RespectRobots, cfg.UserAgent, logger)
		},
		logger: logger,
	}
}

// DiscoverURLs tries the configured sitemap, then probes the site root
// for /sitemap.xml, /sitemap_index.xml, and robots.txt pointers,
// stopping at the first source that yields URLs. When every source
// fails it degrades to just the start URL.
func (g *Generic) DiscoverURLs(ctx context.Context, startURL, sitemapURL string, cfg crawler.Config) ([]string, error) {
	if sitemapURL == "" {
		sitemapURL = cfg.Setting(settingSitemapURL, "")
	}
	if sitemapURL != "" {
		urls, err := g.resolver.Resolve(ctx, sitemapURL, cfg)
		if err != nil {
			g.logger.Warn("configured sitemap failed",
				zap.String("sitemap", sitemapURL), zap.Error(err))
		} else if len(urls) > 0 {
			return urls, nil
		}
	}

	root, err := crawler.SiteRoot(startURL)
	if err != nil {
		return nil, fmt.Errorf("derive site root: %w", err)
	}

	for _, probe := range []string{root + "/sitemap.xml", root + "/sitemap_index.xml"} {
		urls, perr := g.resolver.Resolve(ctx, probe, cfg)
		if perr != nil {
			g.logger.Debug("sitemap probe failed", zap.String("sitemap", probe), zap.Error(perr))
			continue
		}
		if len(urls) > 0 {
			return urls, nil
		}
	}

	urls, rerr := g.resolver.FromRobots(ctx, root+"/robots.txt", cfg)
	if rerr != nil {
		g.logger.Debug("robots sitemap probe failed", zap.Error(rerr))
	} else if len(urls) > 0 {
		return urls, nil
	}

	g.logger.Info("no sitemap found; falling back to start url",
		zap.String("start_url", startURL))
	return []string{startURL}, nil
}

// FetchAndExtract fetches one URL, hashes the body, and runs the
// extraction chain. Failures are reported in the result, never as a
// job-level error.
func (g *Generic) FetchAndExtract(ctx context.Context, rawURL string, cfg crawler.Config) crawler.FetchResult {
	if !g.robots(cfg).Allowed(ctx, rawURL) {
		return crawler.FetchResult{Error: fmt.Errorf("blocked by robots.txt: %s", rawURL)}
	}

	page, err := g.fetcher.Fetch(ctx, rawURL, cfg)
	if err != nil {
		return crawler.FetchResult{Error: fmt.Errorf("fetch %s: %w", rawURL, err)}
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return crawler.FetchResult{
			HTTPStatus: page.StatusCode,
			Error:      fmt.Errorf("unexpected status %d for %s", page.StatusCode, rawURL),
		}
	}

	result := crawler.FetchResult{
		Success:     true,
		HTTPStatus:  page.StatusCode,
		ContentHash: sha256.Sum(page.Body),
		Body:        page.Body,
	}

	products, err := g.extractor.Products(rawURL, page.Body, cfg)
	if err != nil {
		g.logger.Warn("extraction failed", zap.String("url", rawURL), zap.Error(err))
	} else {
		result.Products = products
	}

	links, err := g.extractor.Links(rawURL, page.Body, cfg.PaginationSelector)
	if err != nil {
		g.logger.Debug("link extraction failed", zap.String("url", rawURL), zap.Error(err))
	} else {
		result.DiscoveredURLs = cfg.FilterURLs(links)
	}
	return result
}

var _ crawler.Strategy = (*Generic)(nil)
