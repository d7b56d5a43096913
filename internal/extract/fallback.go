package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// fallbackProduct reads page-level Open Graph metadata. It is used
// only when the structured and selector layers yielded nothing, and
// only when the page self-identifies as a product page.
func (e *Extractor) fallbackProduct(doc *goquery.Document, pageURL string) []crawler.ExtractedProduct {
	ogType := metaContent(doc, `meta[property="og:type"]`)
	if !strings.Contains(strings.ToLower(ogType), "product") {
		return nil
	}

	name := metaContent(doc, `meta[property="og:title"]`)
	if name == "" {
		name = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if name == "" {
		return nil
	}

	p := crawler.ExtractedProduct{
		Name:        name,
		Description: firstMeta(doc, `meta[property="og:description"]`, `meta[name="description"]`),
		ProductURL:  metaContent(doc, `meta[property="og:url"]`),
	}
	if p.ProductURL == "" {
		p.ProductURL = pageURL
	} else {
		p.ProductURL = crawler.ResolveRef(pageURL, p.ProductURL)
	}

	if img := metaContent(doc, `meta[property="og:image"]`); img != "" {
		p.ImageURLs = []string{crawler.ResolveRef(pageURL, img)}
	}

	if amount := firstMeta(doc,
		`meta[property="product:price:amount"]`,
		`meta[property="og:price:amount"]`,
	); amount != "" {
		if price, err := ParsePrice(amount); err == nil {
			p.Price = price
		}
	}
	p.Currency = firstMeta(doc,
		`meta[property="product:price:currency"]`,
		`meta[property="og:price:currency"]`,
	)

	if payload, err := json.Marshal(map[string]string{
		"source": "page-metadata",
		"url":    pageURL,
	}); err == nil {
		p.RawPayload = string(payload)
	}
	return []crawler.ExtractedProduct{p}
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func firstMeta(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := metaContent(doc, sel); v != "" {
			return v
		}
	}
	return ""
}
