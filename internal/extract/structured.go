package extract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// structuredProducts reads JSON-LD blocks and keeps items self-typed
// as a product. Malformed blocks are skipped; they must not abort the
// remaining blocks or the rest of the chain.
func (e *Extractor) structuredProducts(doc *goquery.Document, pageURL string) []crawler.ExtractedProduct {
	var out []crawler.ExtractedProduct
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var node any
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			e.logger.Debug("skipping malformed json-ld block",
				zap.String("url", pageURL), zap.Error(err))
			return
		}
		for _, item := range flattenLD(node) {
			if p, ok := productFromLD(item, pageURL); ok {
				out = append(out, p)
			}
		}
	})
	return out
}

// flattenLD expands top-level arrays and @graph containers into the
// individual items they hold.
func flattenLD(node any) []map[string]any {
	var out []map[string]any
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			out = append(out, flattenLD(item)...)
		}
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				out = append(out, flattenLD(item)...)
			}
			return out
		}
		out = append(out, v)
	}
	return out
}

func productFromLD(item map[string]any, pageURL string) (crawler.ExtractedProduct, bool) {
	if !isProductType(item["@type"]) {
		return crawler.ExtractedProduct{}, false
	}
	name := stringField(item, "name")
	if name == "" {
		return crawler.ExtractedProduct{}, false
	}

	p := crawler.ExtractedProduct{
		Name:        name,
		Description: stringField(item, "description"),
		ExternalID:  firstStringField(item, "sku", "productID", "mpn"),
		ProductURL:  stringField(item, "url"),
		ImageURLs:   ldImages(item["image"]),
	}
	if p.ProductURL == "" {
		p.ProductURL = pageURL
	} else {
		p.ProductURL = crawler.ResolveRef(pageURL, p.ProductURL)
	}

	if offer, ok := firstOffer(item["offers"]); ok {
		if price, err := ldPrice(offer); err == nil {
			p.Price = price
		}
		p.Currency = firstStringField(offer, "priceCurrency")
	}

	if payload, err := json.Marshal(item); err == nil {
		p.RawPayload = string(payload)
	}
	return p, true
}

func isProductType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, "Product")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, "Product") {
				return true
			}
		}
	}
	return false
}

// firstOffer accepts a single offer object or an array of offers.
func firstOffer(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case []any:
		for _, item := range o {
			if m, ok := item.(map[string]any); ok {
				return m, true
			}
		}
	}
	return nil, false
}

func ldPrice(offer map[string]any) (float64, error) {
	switch v := offer["price"].(type) {
	case float64:
		return v, nil
	case string:
		return ParsePrice(v)
	case json.Number:
		return v.Float64()
	}
	return 0, errNoPrice
}

// ldImages accepts a bare string, an array of strings, an array of
// {url} objects, or a single {url} object.
func ldImages(v any) []string {
	switch img := v.(type) {
	case string:
		if img != "" {
			return []string{img}
		}
	case map[string]any:
		if u := stringField(img, "url"); u != "" {
			return []string{u}
		}
	case []any:
		var out []string
		for _, item := range img {
			switch e := item.(type) {
			case string:
				if e != "" {
					out = append(out, e)
				}
			case map[string]any:
				if u := stringField(e, "url"); u != "" {
					out = append(out, u)
				}
			}
		}
		return out
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func firstStringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

var errNoPrice = errors.New("offer carries no price")
