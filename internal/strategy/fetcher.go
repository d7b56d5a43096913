package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// fetchedPage is the raw outcome of an HTTP fetch.
type fetchedPage struct {
	FinalURL   string
	StatusCode int
	Body       []byte
}

// pageFetcher retrieves a single URL.
type pageFetcher interface {
	Fetch(ctx context.Context, rawURL string, cfg crawler.Config) (fetchedPage, error)
}

// CollyFetcher implements pageFetcher using the Colly collector.
// Politeness delays live here rather than in a colly LimitRule: each
// fetch runs on a fresh clone, so a per-collector rule would never see
// two consecutive requests.
type CollyFetcher struct {
	baseCollector  *colly.Collector
	domainLimiters sync.Map
	logger         *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based fetcher.
func NewCollyFetcher(requestTimeout time.Duration, logger *zap.Logger) *CollyFetcher {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	base := colly.NewCollector(colly.Async(true))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: requestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(requestTimeout)

	return &CollyFetcher{
		baseCollector: base,
		logger:        logger,
	}
}

// Fetch retrieves a page via a clone of the base collector. HTTP error
// statuses surface as a fetchedPage with the status code set.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string, cfg crawler.Config) (fetchedPage, error) {
	if err := f.waitPoliteness(ctx, rawURL, cfg.RequestDelay); err != nil {
		return fetchedPage{}, err
	}

	collector := f.baseCollector.Clone()
	collector.UserAgent = cfg.UserAgent

	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: fetchedPage{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// Non-2xx is still a completed fetch; record the code.
			send(fetchResult{page: fetchedPage{
				FinalURL:   r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Body:       append([]byte{}, r.Body...),
			}})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return fetchedPage{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return fetchedPage{}, err
		}
		return res.page, res.err
	default:
		return fetchedPage{}, errors.New("colly fetch produced no result")
	}
}

// waitPoliteness spaces requests to the same host by delay. The
// limiter is shared across fetches, so consecutive pages of a crawl
// actually honor the configured spacing.
func (f *CollyFetcher) waitPoliteness(ctx context.Context, rawURL string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil
	}
	host := strings.ToLower(parsed.Host)
	limit := rate.Every(delay)
	val, _ := f.domainLimiters.LoadOrStore(host, rate.NewLimiter(limit, 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if limiter.Limit() != limit {
		limiter.SetLimit(limit)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type fetchResult struct {
	page fetchedPage
	err  error
}
