// Package discover resolves sitemaps, sitemap indices, and robots.txt
// pointers into a bounded candidate URL set.
package discover

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// maxNestedSitemaps bounds recursion through sitemap indices so a
// cyclic or self-referential index still terminates.
const maxNestedSitemaps = 50

const maxSitemapBytes = 32 << 20

// Resolver fetches and recursively expands sitemap documents.
type Resolver struct {
	client *http.Client
	logger *zap.Logger
}

// New constructs a Resolver. A nil client gets a 30s-timeout default.
func New(client *http.Client, logger *zap.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: client, logger: logger}
}

type sitemapDoc struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapIndexDoc struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// Resolve expands the given sitemap URL, following nested indices up
// to the nested-sitemap cap, then applies exclude/include filtering
// and case-insensitive deduplication.
func (r *Resolver) Resolve(ctx context.Context, sitemapURL string, cfg crawler.Config) ([]string, error) {
	budget := maxNestedSitemaps
	urls, err := r.expand(ctx, sitemapURL, cfg, &budget)
	if err != nil {
		return nil, err
	}
	return dedupeFold(cfg.FilterURLs(urls)), nil
}

// FromRobots reads robots.txt Sitemap directives and resolves each
// through the same expansion. Directives that fail are skipped.
func (r *Resolver) FromRobots(ctx context.Context, robotsURL string, cfg crawler.Config) ([]string, error) {
	body, err := r.get(ctx, robotsURL, cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}

	budget := maxNestedSitemaps
	var urls []string
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			continue
		}
		target := strings.TrimSpace(line[len("sitemap:"):])
		if target == "" {
			continue
		}
		found, expandErr := r.expand(ctx, target, cfg, &budget)
		if expandErr != nil {
			r.logger.Warn("skipping robots sitemap directive",
				zap.String("sitemap", target), zap.Error(expandErr))
			continue
		}
		urls = append(urls, found...)
	}
	return dedupeFold(cfg.FilterURLs(urls)), nil
}

// expand fetches one sitemap document. A sitemap index recurses into
// its children; any single child failing is logged and skipped so the
// remaining siblings still resolve.
func (r *Resolver) expand(ctx context.Context, sitemapURL string, cfg crawler.Config, budget *int) ([]string, error) {
	if *budget <= 0 {
		r.logger.Warn("nested sitemap cap reached", zap.String("sitemap", sitemapURL))
		return nil, nil
	}
	*budget--

	body, err := r.get(ctx, sitemapURL, cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}

	var index sitemapIndexDoc
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, child := range index.Sitemaps {
			loc := strings.TrimSpace(child.Loc)
			if loc == "" {
				continue
			}
			childURLs, childErr := r.expand(ctx, loc, cfg, budget)
			if childErr != nil {
				r.logger.Warn("skipping nested sitemap",
					zap.String("sitemap", loc), zap.Error(childErr))
				continue
			}
			urls = append(urls, childURLs...)
		}
		return urls, nil
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	urls := make([]string, 0, len(doc.URLs))
	for _, entry := range doc.URLs {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}

func (r *Resolver) get(ctx context.Context, rawURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if isGzip(rawURL, resp.Header.Get("Content-Type")) {
		gz, gerr := gzip.NewReader(resp.Body)
		if gerr != nil {
			return nil, fmt.Errorf("gzip reader: %w", gerr)
		}
		defer func() {
			if cerr := gz.Close(); cerr != nil {
				r.logger.Debug("close gzip reader", zap.Error(cerr))
			}
		}()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func isGzip(rawURL, contentType string) bool {
	return strings.HasSuffix(strings.ToLower(rawURL), ".gz") ||
		strings.Contains(contentType, "gzip")
}

// dedupeFold removes case-insensitive duplicates, keeping first
// occurrences in order.
func dedupeFold(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := strings.ToLower(u)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}
