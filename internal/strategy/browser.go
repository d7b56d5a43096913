package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/discover"
	"github.com/loferreiranuno/momarq-crawler/internal/extract"
	"github.com/loferreiranuno/momarq-crawler/internal/hash/sha256"
)

// Custom setting keys recognized by the browser strategy.
const (
	settingProductURLPattern = "productUrlPattern"
	settingProductMarker     = "productMarkerSelector"
	settingStateExpression   = "stateExpression"
)

// defaultStateExpression reads the common embedded page-state blob.
const defaultStateExpression = "window.__INITIAL_STATE__ && JSON.stringify(window.__INITIAL_STATE__)"

// Browser crawls JavaScript-heavy or bot-protected sites through a
// rendering engine. A randomized politeness delay precedes every fetch.
type Browser struct {
	renderer  crawler.Renderer
	resolver  *discover.Resolver
	extractor *extract.Extractor
	pause     pauseController
	jitter    *jitterDelay
	logger    *zap.Logger
}

// NewBrowser constructs the browser-rendered strategy.
func NewBrowser(renderer crawler.Renderer, resolver *discover.Resolver, extractor *extract.Extractor, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{
		renderer:  renderer,
		resolver:  resolver,
		extractor: extractor,
		pause:     timerPauseController{},
		jitter:    newJitterDelay(),
		logger:    logger,
	}
}

// DiscoverURLs downloads the sitemap (gzip handled by the resolver)
// and keeps only URLs matching the provider's product URL pattern.
func (b *Browser) DiscoverURLs(ctx context.Context, startURL, sitemapURL string, cfg crawler.Config) ([]string, error) {
	if sitemapURL == "" {
		sitemapURL = cfg.Setting(settingSitemapURL, "")
	}
	if sitemapURL == "" {
		root, err := crawler.SiteRoot(startURL)
		if err != nil {
			return nil, fmt.Errorf("derive site root: %w", err)
		}
		sitemapURL = root + "/sitemap.xml"
	}

	urls, err := b.resolver.Resolve(ctx, sitemapURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve sitemap: %w", err)
	}

	pattern := cfg.Setting(settingProductURLPattern, "")
	if pattern == "" {
		return urls, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile product url pattern: %w", err)
	}
	filtered := make([]string, 0, len(urls))
	for _, u := range urls {
		if re.MatchString(u) {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

// FetchAndExtract renders one URL after a politeness delay. Structured
// fields come from the embedded page state when present, otherwise
// from DOM selectors.
func (b *Browser) FetchAndExtract(ctx context.Context, rawURL string, cfg crawler.Config) crawler.FetchResult {
	b.pause.Pause(ctx, b.jitter.Next(cfg.RequestDelay))
	if err := ctx.Err(); err != nil {
		return crawler.FetchResult{Error: err}
	}

	page, err := b.renderer.Render(ctx, rawURL, crawler.RenderOptions{
		WaitSelector:    cfg.Setting(settingProductMarker, ""),
		StateExpression: cfg.Setting(settingStateExpression, defaultStateExpression),
	})
	if err != nil {
		return crawler.FetchResult{Error: fmt.Errorf("render %s: %w", rawURL, err)}
	}
	if page.StatusCode >= 400 {
		return crawler.FetchResult{
			HTTPStatus: page.StatusCode,
			Error:      fmt.Errorf("unexpected status %d for %s", page.StatusCode, rawURL),
		}
	}

	body := []byte(page.HTML)
	result := crawler.FetchResult{
		Success:     true,
		HTTPStatus:  page.StatusCode,
		ContentHash: sha256.Sum(body),
		Body:        body,
	}

	if products := b.stateProducts(page.StateJSON, rawURL); len(products) > 0 {
		result.Products = extract.Dedupe(products)
	} else {
		products, perr := b.extractor.Products(rawURL, body, cfg)
		if perr != nil {
			b.logger.Warn("dom extraction failed", zap.String("url", rawURL), zap.Error(perr))
		} else {
			result.Products = products
		}
	}

	if cfg.PaginationSelector != "" {
		links, lerr := b.extractor.Links(rawURL, body, cfg.PaginationSelector)
		if lerr != nil {
			b.logger.Debug("pagination extraction failed", zap.String("url", rawURL), zap.Error(lerr))
		} else {
			result.DiscoveredURLs = cfg.FilterURLs(links)
		}
	}
	return result
}

// pageState mirrors the subset of an embedded state blob we read.
type pageState struct {
	Product       *stateProduct `json:"product"`
	ProductDetail *stateProduct `json:"productDetail"`
}

type stateProduct struct {
	ID          string          `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       json.RawMessage `json:"price"`
	Currency    string          `json:"currency"`
	URL         string          `json:"url"`
	Images      []string        `json:"images"`
}

func (b *Browser) stateProducts(stateJSON []byte, pageURL string) []crawler.ExtractedProduct {
	if len(stateJSON) == 0 {
		return nil
	}
	var state pageState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		b.logger.Debug("unparseable page state", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	sp := state.Product
	if sp == nil {
		sp = state.ProductDetail
	}
	if sp == nil || sp.Name == "" {
		return nil
	}

	p := crawler.ExtractedProduct{
		Name:        sp.Name,
		Description: sp.Description,
		Currency:    sp.Currency,
		ProductURL:  pageURL,
		ImageURLs:   sp.Images,
		RawPayload:  string(stateJSON),
	}
	if sp.SKU != "" {
		p.ExternalID = sp.SKU
	} else {
		p.ExternalID = sp.ID
	}
	if sp.URL != "" {
		p.ProductURL = crawler.ResolveRef(pageURL, sp.URL)
	}
	if price, err := statePrice(sp.Price); err == nil {
		p.Price = price
	}
	return []crawler.ExtractedProduct{p}
}

// statePrice accepts a bare number, a numeric string, or an
// {amount, currency} object.
func statePrice(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, errNoStatePrice
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return extract.ParsePrice(text)
	}
	var amount struct {
		Amount json.Number `json:"amount"`
	}
	if err := json.Unmarshal(raw, &amount); err == nil && amount.Amount != "" {
		return amount.Amount.Float64()
	}
	return 0, errNoStatePrice
}

var errNoStatePrice = fmt.Errorf("state carries no price")

var _ crawler.Strategy = (*Browser)(nil)
