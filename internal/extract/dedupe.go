package extract

import (
	"strings"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// Dedupe collapses candidates sharing an identity, keeping the first
// occurrence. Identity is the external id when present, otherwise the
// canonical product URL (query and fragment stripped).
func Dedupe(products []crawler.ExtractedProduct) []crawler.ExtractedProduct {
	seen := make(map[string]struct{}, len(products))
	out := make([]crawler.ExtractedProduct, 0, len(products))
	for _, p := range products {
		key := dedupeKey(p)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, p)
	}
	return out
}

// Key returns the identity used for deduplication, or "" when the
// candidate carries neither an external id nor a product URL.
func Key(p crawler.ExtractedProduct) string {
	return dedupeKey(p)
}

func dedupeKey(p crawler.ExtractedProduct) string {
	if p.ExternalID != "" {
		return "sku:" + strings.ToLower(p.ExternalID)
	}
	if p.ProductURL != "" {
		canonical, err := crawler.CanonicalURL(p.ProductURL)
		if err != nil {
			return "url:" + p.ProductURL
		}
		return "url:" + canonical
	}
	return ""
}
