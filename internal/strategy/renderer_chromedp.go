package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

const networkIdleQuiet = 500 * time.Millisecond

// RendererConfig controls the chromedp renderer.
type RendererConfig struct {
	MaxConcurrency int
	NavTimeout     time.Duration
	DomainQPS      float64
	UserAgent      string
	// ExecPath points at a specific Chrome binary. Empty uses the
	// allocator's default lookup.
	ExecPath string
}

// ChromedpRenderer renders pages using headless Chrome via chromedp.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	navTimeout      time.Duration
	domainQPS       float64
	domainLimiters  sync.Map
	userAgent       string
}

// NewChromedpRenderer creates a renderer using the provided configuration.
func NewChromedpRenderer(cfg RendererConfig, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrRendererDisabled
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		navTimeout:      cfg.NavTimeout,
		domainQPS:       cfg.DomainQPS,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *ChromedpRenderer) Close() error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// Render loads the page, waits for network idle (bounded by the nav
// timeout), optionally waits for a marker selector, and reads an
// embedded state expression when configured. Marker and state absence
// are non-fatal.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string, opts crawler.RenderOptions) (crawler.RenderedPage, error) {
	if r == nil {
		return crawler.RenderedPage{}, ErrRendererDisabled
	}

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return crawler.RenderedPage{}, err
	}
	defer release()

	if waitErr := r.waitDomainBudget(ctx, rawURL); waitErr != nil {
		return crawler.RenderedPage{}, fmt.Errorf("render rate limit: %w", waitErr)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.navTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	r.recordResponse(tabCtx, meta)
	idle := trackNetworkIdle(tabCtx)

	var html, stateJSON string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		idle.wait(networkIdleQuiet),
	}
	if opts.WaitSelector != "" {
		tasks = append(tasks, r.waitForMarker(opts.WaitSelector, opts.WaitTimeout, rawURL))
	}
	if opts.StateExpression != "" {
		tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
			// State blobs are optional; evaluation failures fall back
			// to DOM extraction.
			if err := chromedp.Evaluate(opts.StateExpression, &stateJSON).Do(ctx); err != nil {
				r.logger.Debug("page state evaluation failed",
					zap.String("url", rawURL), zap.Error(err))
			}
			return nil
		}))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}

	page := crawler.RenderedPage{
		HTML:       html,
		StatusCode: meta.statusCode,
		FinalURL:   meta.finalURL(rawURL),
	}
	if stateJSON != "" && stateJSON != "null" {
		page.StateJSON = []byte(stateJSON)
	}
	return page, nil
}

func (r *ChromedpRenderer) waitForMarker(selector string, timeout time.Duration, rawURL string) chromedp.ActionFunc {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(ctx context.Context) error {
		markerCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := chromedp.WaitVisible(selector, chromedp.ByQuery).Do(markerCtx); err != nil {
			r.logger.Debug("product marker did not appear",
				zap.String("url", rawURL), zap.String("selector", selector))
		}
		return nil
	}
}

func (r *ChromedpRenderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (r *ChromedpRenderer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.domainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type responseMeta struct {
	once       sync.Once
	statusCode int
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}

func (r *ChromedpRenderer) recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
		})
	})
}

// networkIdleTracker counts in-flight requests on a tab so a render
// can wait for a quiet window.
type networkIdleTracker struct {
	mu           sync.Mutex
	inflight     int
	lastActivity time.Time
}

func trackNetworkIdle(tabCtx context.Context) *networkIdleTracker {
	t := &networkIdleTracker{lastActivity: time.Now()}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			t.bump(1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			t.bump(-1)
		}
	})
	return t
}

func (t *networkIdleTracker) bump(delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight += delta
	if t.inflight < 0 {
		t.inflight = 0
	}
	t.lastActivity = time.Now()
}

func (t *networkIdleTracker) quietFor(window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight == 0 && time.Since(t.lastActivity) >= window
}

// wait blocks until the tab has had no network activity for the quiet
// window, bounded by its own timeout. Expiry is non-fatal: the page
// snapshot is taken with whatever has loaded.
func (t *networkIdleTracker) wait(window time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		idleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-idleCtx.Done():
				return nil
			case <-ticker.C:
				if t.quietFor(window) {
					return nil
				}
			}
		}
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
