package crawler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Config captures the per-provider knobs that influence a crawl run.
// It is immutable for the duration of a job.
type Config struct {
	RequestDelay   time.Duration
	MaxConcurrency int
	RespectRobots  bool
	UserAgent      string

	ContainerSelector   string
	NameSelector        string
	PriceSelector       string
	ImageSelector       string
	DescriptionSelector string
	LinkSelector        string
	PaginationSelector  string

	IncludePatterns []*regexp.Regexp
	ExcludePatterns []*regexp.Regexp

	// CustomSettings carries strategy-specific parameters such as a
	// sitemap override or a product URL pattern.
	CustomSettings map[string]string
}

// configDocument is the wire shape stored per provider.
type configDocument struct {
	RequestDelayMs             int               `json:"requestDelayMs"`
	MaxConcurrency             int               `json:"maxConcurrency"`
	RespectRobotsTxt           bool              `json:"respectRobotsTxt"`
	UserAgent                  string            `json:"userAgent"`
	ProductContainerSelector   string            `json:"productContainerSelector"`
	ProductNameSelector        string            `json:"productNameSelector"`
	ProductPriceSelector       string            `json:"productPriceSelector"`
	ProductImageSelector       string            `json:"productImageSelector"`
	ProductDescriptionSelector string            `json:"productDescriptionSelector"`
	ProductLinkSelector        string            `json:"productLinkSelector"`
	PaginationSelector         string            `json:"paginationSelector"`
	IncludePatterns            []string          `json:"includePatterns"`
	ExcludePatterns            []string          `json:"excludePatterns"`
	CustomSettings             map[string]string `json:"customSettings"`
}

// ParseConfig decodes a provider configuration document and compiles
// its URL patterns.
func ParseConfig(raw []byte) (Config, error) {
	var doc configDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("decode crawler config: %w", err)
	}

	cfg := Config{
		RequestDelay:        time.Duration(doc.RequestDelayMs) * time.Millisecond,
		MaxConcurrency:      doc.MaxConcurrency,
		RespectRobots:       doc.RespectRobotsTxt,
		UserAgent:           doc.UserAgent,
		ContainerSelector:   doc.ProductContainerSelector,
		NameSelector:        doc.ProductNameSelector,
		PriceSelector:       doc.ProductPriceSelector,
		ImageSelector:       doc.ProductImageSelector,
		DescriptionSelector: doc.ProductDescriptionSelector,
		LinkSelector:        doc.ProductLinkSelector,
		PaginationSelector:  doc.PaginationSelector,
		CustomSettings:      doc.CustomSettings,
	}
	if cfg.CustomSettings == nil {
		cfg.CustomSettings = map[string]string{}
	}

	var err error
	if cfg.IncludePatterns, err = compilePatterns(doc.IncludePatterns); err != nil {
		return Config{}, fmt.Errorf("include patterns: %w", err)
	}
	if cfg.ExcludePatterns, err = compilePatterns(doc.ExcludePatterns); err != nil {
		return Config{}, fmt.Errorf("exclude patterns: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RequestDelay <= 0 {
		c.RequestDelay = time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	if c.UserAgent == "" {
		c.UserAgent = "momarq-catalog-bot/1.0"
	}
}

// Setting returns a custom setting value or the given fallback.
func (c Config) Setting(key, fallback string) string {
	if v, ok := c.CustomSettings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// FilterURLs applies exclude patterns first, then include patterns.
// When include patterns exist, URLs matching none of them are dropped.
func (c Config) FilterURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if matchesAny(c.ExcludePatterns, u) {
			continue
		}
		if len(c.IncludePatterns) > 0 && !matchesAny(c.IncludePatterns, u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func compilePatterns(raw []string) ([]*regexp.Regexp, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, expr := range raw {
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}
