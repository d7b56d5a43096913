package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// selectorProducts walks the provider's container selector and reads
// the configured field selectors inside each match. Containers without
// a resolvable name yield nothing.
func (e *Extractor) selectorProducts(doc *goquery.Document, pageURL string, cfg crawler.Config) []crawler.ExtractedProduct {
	if cfg.ContainerSelector == "" {
		return nil
	}

	var out []crawler.ExtractedProduct
	doc.Find(cfg.ContainerSelector).Each(func(i int, container *goquery.Selection) {
		name := selectionText(container, cfg.NameSelector)
		if name == "" {
			e.logger.Debug("dropping container without name",
				zap.String("url", pageURL), zap.Int("index", i))
			return
		}

		p := crawler.ExtractedProduct{
			Name:        name,
			Description: selectionText(container, cfg.DescriptionSelector),
			ProductURL:  resolveAttr(container, cfg.LinkSelector, "href", pageURL),
		}
		if p.ProductURL == "" {
			p.ProductURL = pageURL
		}

		if priceText := selectionText(container, cfg.PriceSelector); priceText != "" {
			if price, err := ParsePrice(priceText); err == nil {
				p.Price = price
			}
		}

		if cfg.ImageSelector != "" {
			container.Find(cfg.ImageSelector).Each(func(_ int, img *goquery.Selection) {
				src, ok := img.Attr("src")
				if !ok || src == "" {
					src, _ = img.Attr("data-src")
				}
				if src != "" {
					p.ImageURLs = append(p.ImageURLs, crawler.ResolveRef(pageURL, src))
				}
			})
		}

		if fragment, err := container.Html(); err == nil {
			if payload, merr := json.Marshal(map[string]string{"html": fragment}); merr == nil {
				p.RawPayload = string(payload)
			}
		}
		out = append(out, p)
	})
	return out
}

func selectionText(container *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(container.Find(selector).First().Text())
}

func resolveAttr(container *goquery.Selection, selector, attr, pageURL string) string {
	if selector == "" {
		return ""
	}
	val, ok := container.Find(selector).First().Attr(attr)
	if !ok || val == "" {
		return ""
	}
	return crawler.ResolveRef(pageURL, val)
}
