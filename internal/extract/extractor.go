// Package extract implements the layered product extraction chain:
// structured data blocks, configured selectors, then page metadata.
package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// Extractor runs the extraction strategies in fixed priority order and
// unions non-empty results before deduplicating.
type Extractor struct {
	logger *zap.Logger
}

// New constructs an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Products extracts candidate products from an HTML page. Each layer
// failing or matching nothing is non-fatal; the page-level fallback is
// consulted only when the first two layers produce nothing.
func (e *Extractor) Products(pageURL string, body []byte, cfg crawler.Config) ([]crawler.ExtractedProduct, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var products []crawler.ExtractedProduct
	products = append(products, e.structuredProducts(doc, pageURL)...)
	products = append(products, e.selectorProducts(doc, pageURL, cfg)...)
	if len(products) == 0 {
		products = e.fallbackProduct(doc, pageURL)
	}

	deduped := Dedupe(products)
	if dropped := len(products) - len(deduped); dropped > 0 {
		e.logger.Debug("deduplicated extracted products",
			zap.String("url", pageURL), zap.Int("dropped", dropped))
	}
	return deduped, nil
}

// Links collects same-domain anchor targets, normalized by stripping
// query and fragment, plus matches of the pagination selector. Used
// for link-following when no sitemap is available.
func (e *Extractor) Links(pageURL string, body []byte, paginationSelector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(href string) {
		if href == "" {
			return
		}
		resolved := crawler.ResolveRef(pageURL, href)
		if !crawler.SameHost(pageURL, resolved) {
			return
		}
		canonical, cerr := crawler.CanonicalURL(resolved)
		if cerr != nil {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href)
	})
	if paginationSelector != "" {
		doc.Find(paginationSelector).Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				add(href)
			} else if href, ok := s.Find("a[href]").First().Attr("href"); ok {
				add(href)
			}
		})
	}
	return out, nil
}
