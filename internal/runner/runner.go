// Package runner executes a claimed crawl job end to end: discovery,
// the fetch loop, persistence, and the terminal transition.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
	"github.com/loferreiranuno/momarq-crawler/internal/lease"
	"github.com/loferreiranuno/momarq-crawler/internal/metrics"
)

// settingStrategy selects the crawl strategy in the provider config.
const settingStrategy = "strategy"

// DefaultStrategyKind is used when the provider config names none.
const DefaultStrategyKind = "generic"

// Runner drives one claimed job. It owns nothing across jobs; all
// durable state lives in the JobStore.
type Runner struct {
	store      crawler.JobStore
	configs    crawler.ConfigSource
	strategies map[string]crawler.Strategy
	leases     *lease.Manager
	blobs      crawler.BlobStore
	publisher  crawler.Publisher
	clock      crawler.Clock
	ids        crawler.IDGenerator
	logger     *zap.Logger
}

// Options carries the optional collaborators.
type Options struct {
	// Blobs, when set, receives a raw HTML snapshot per fetched page.
	Blobs crawler.BlobStore
	// Publisher, when set, receives a completion event per finished job.
	Publisher crawler.Publisher
}

// New constructs a Runner. strategies maps strategy kinds (the
// provider config's "strategy" setting) to implementations.
func New(
	store crawler.JobStore,
	configs crawler.ConfigSource,
	strategies map[string]crawler.Strategy,
	leases *lease.Manager,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	opts Options,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:      store,
		configs:    configs,
		strategies: strategies,
		leases:     leases,
		blobs:      opts.Blobs,
		publisher:  opts.Publisher,
		clock:      clock,
		ids:        ids,
		logger:     logger,
	}
}

// Run executes a job this worker has already claimed. It returns nil
// when the job reached a terminal status or was paused/canceled out
// from under us; errors mean the run aborted without a clean handoff.
func (r *Runner) Run(ctx context.Context, job crawler.CrawlJob) (err error) {
	log := r.logger.With(zap.String("job_id", job.ID), zap.String("provider_id", job.ProviderID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("job panicked", zap.Any("panic", rec))
			err = r.finish(ctx, job, crawler.JobStatusFailed, fmt.Sprintf("panic: %v", rec))
		}
	}()

	cfg, cfgErr := r.configs.ConfigForProvider(ctx, job.ProviderID)
	if cfgErr != nil {
		log.Error("provider config unavailable", zap.Error(cfgErr))
		return r.finish(ctx, job, crawler.JobStatusFailed, fmt.Sprintf("resolve config: %v", cfgErr))
	}

	kind := cfg.Setting(settingStrategy, DefaultStrategyKind)
	strat, ok := r.strategies[kind]
	if !ok {
		log.Error("unknown strategy kind", zap.String("kind", kind))
		return r.finish(ctx, job, crawler.JobStatusFailed, fmt.Sprintf("unknown strategy %q", kind))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var leaseLost bool
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		r.leases.Heartbeat(runCtx, job.ID, func() {
			leaseLost = true
			cancel()
		})
	}()
	defer hb.Wait()
	defer cancel()

	visited, visErr := r.store.PageURLSet(runCtx, job.ID)
	if visErr != nil {
		return r.finish(ctx, job, crawler.JobStatusFailed, fmt.Sprintf("load visited pages: %v", visErr))
	}

	urls, discErr := strat.DiscoverURLs(runCtx, job.StartURL, job.SitemapURL, cfg)
	if discErr != nil || len(urls) == 0 {
		if discErr != nil {
			log.Warn("discovery failed, crawling start url only", zap.Error(discErr))
		}
		urls = []string{job.StartURL}
	}
	log.Info("discovery finished",
		zap.Int("urls", len(urls)), zap.Int("already_visited", len(visited)))

	state := newCrawlState(job.MaxPages, visited, urls)
	interruption := r.crawl(runCtx, job, cfg, strat, state, log)

	cancel()
	hb.Wait()

	if leaseLost {
		log.Warn("lease lost during run, leaving job to the new owner")
		return nil
	}

	switch interruption {
	case interruptNone:
		return r.finish(ctx, job, crawler.JobStatusSucceeded, "")
	case interruptExternal:
		// Pause or cancel was applied by the control surface; the
		// status and lease are already settled.
		log.Info("job interrupted externally")
		return nil
	default:
		// Shutdown. Keep the lease; it expires and another worker
		// resumes where the page records leave off.
		return ctx.Err()
	}
}

type interruption int

const (
	interruptNone interruption = iota
	interruptExternal
	interruptShutdown
)

// crawl drains the frontier with cfg.MaxConcurrency workers.
func (r *Runner) crawl(
	ctx context.Context,
	job crawler.CrawlJob,
	cfg crawler.Config,
	strat crawler.Strategy,
	state *crawlState,
	log *zap.Logger,
) interruption {
	workers := cfg.MaxConcurrency
	if workers < 1 {
		workers = 1
	}

	// Wake blocked workers when the run context dies.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			state.wake()
		case <-watchDone:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rawURL, ok := state.next(ctx)
				if !ok {
					return
				}
				if !r.jobStillRunning(ctx, job.ID) {
					state.stop(interruptExternal)
					state.done()
					return
				}
				r.crawlPage(ctx, job, cfg, strat, state, rawURL, log)
				state.done()
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil && state.interruption() == interruptNone {
		state.stop(interruptShutdown)
	}
	return state.interruption()
}

// crawlPage fetches one URL, persists its outcome, and feeds newly
// discovered links back into the frontier.
func (r *Runner) crawlPage(
	ctx context.Context,
	job crawler.CrawlJob,
	cfg crawler.Config,
	strat crawler.Strategy,
	state *crawlState,
	rawURL string,
	log *zap.Logger,
) {
	start := r.clock.Now()
	result := strat.FetchAndExtract(ctx, rawURL, cfg)
	if ctx.Err() != nil {
		// The fetch was cut short; leave no page record so a resumed
		// run retries this URL.
		state.requeue(rawURL)
		return
	}

	page := crawler.CrawlPage{
		JobID:       job.ID,
		URL:         rawURL,
		HTTPStatus:  result.HTTPStatus,
		ContentHash: result.ContentHash,
		FetchedAt:   r.clock.Now(),
	}
	if id, err := r.ids.NewID(); err == nil {
		page.ID = id
	}
	if result.Success {
		page.Status = crawler.PageStatusSucceeded
	} else {
		page.Status = crawler.PageStatusFailed
		if result.Error != nil {
			page.ErrorMessage = result.Error.Error()
		}
	}
	if err := r.store.RecordPage(ctx, page); err != nil {
		log.Warn("record page failed", zap.String("url", rawURL), zap.Error(err))
	}
	metrics.ObservePage(job.ProviderID, string(page.Status), r.clock.Now().Sub(start))

	if !result.Success {
		log.Debug("page failed",
			zap.String("url", rawURL),
			zap.Int("http_status", result.HTTPStatus),
			zap.Error(result.Error))
		return
	}

	if r.blobs != nil && len(result.Body) > 0 {
		path := fmt.Sprintf("%s/%s.html", job.ID, result.ContentHash)
		if _, err := r.blobs.PutObject(ctx, path, "text/html", result.Body); err != nil {
			log.Warn("snapshot upload failed", zap.String("url", rawURL), zap.Error(err))
		}
	}

	if products := state.claimProducts(result.Products); len(products) > 0 {
		for i := range products {
			if id, err := r.ids.NewID(); err == nil {
				products[i].ID = id
			}
			products[i].JobID = job.ID
			products[i].ProviderID = job.ProviderID
			products[i].Status = crawler.ProductStatusPending
		}
		if err := r.store.SaveProducts(ctx, products); err != nil {
			log.Warn("save products failed", zap.String("url", rawURL), zap.Error(err))
		} else {
			metrics.ObserveProducts(job.ProviderID, len(products))
		}
	}

	for _, u := range result.DiscoveredURLs {
		state.enqueue(u)
	}
}

// jobStillRunning polls the store so external pause/cancel requests
// take effect between pages.
func (r *Runner) jobStillRunning(ctx context.Context, jobID string) bool {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		// Transient store errors should not abort the crawl.
		return ctx.Err() == nil
	}
	return job.Status == crawler.JobStatusRunning
}

// finish releases the lease with the terminal status and publishes the
// completion event.
func (r *Runner) finish(ctx context.Context, job crawler.CrawlJob, status crawler.JobStatus, errMsg string) error {
	// Use a fresh context so cleanup survives a canceled run context.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	if err := r.leases.Release(ctx, job.ID, status, errMsg); err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	metrics.ObserveJob(string(status))

	if r.publisher == nil {
		return nil
	}
	pages, _ := r.store.ListPages(ctx, job.ID)
	products, _ := r.store.ListProducts(ctx, job.ID)
	event := crawler.CompletionEvent{
		JobID:      job.ID,
		ProviderID: job.ProviderID,
		Status:     status,
		Pages:      len(pages),
		Products:   len(products),
		FinishedAt: r.clock.Now(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish completion event failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	return nil
}
