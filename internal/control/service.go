// Package control implements the job control surface: creating,
// pausing, resuming, canceling, retrying and deleting crawl jobs.
package control

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// Service validates and applies job lifecycle requests. Execution is
// the workers' job; the service only mutates stored state.
type Service struct {
	store  crawler.JobStore
	clock  crawler.Clock
	ids    crawler.IDGenerator
	logger *zap.Logger
}

// New constructs the control service.
func New(store crawler.JobStore, clock crawler.Clock, ids crawler.IDGenerator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clock, ids: ids, logger: logger}
}

// CreateJobParams are the caller-supplied fields of a new job.
type CreateJobParams struct {
	ProviderID string `json:"provider_id"`
	StartURL   string `json:"start_url"`
	SitemapURL string `json:"sitemap_url,omitempty"`
	MaxPages   int    `json:"max_pages,omitempty"`
}

func (p CreateJobParams) validate() error {
	if p.ProviderID == "" {
		return fmt.Errorf("provider_id is required")
	}
	if err := validateURL(p.StartURL, "start_url"); err != nil {
		return err
	}
	if p.SitemapURL != "" {
		if err := validateURL(p.SitemapURL, "sitemap_url"); err != nil {
			return err
		}
	}
	if p.MaxPages < 0 {
		return fmt.Errorf("max_pages must not be negative")
	}
	return nil
}

func validateURL(raw, field string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) url", field)
	}
	return nil
}

// Create enqueues a new job.
func (s *Service) Create(ctx context.Context, params CreateJobParams) (crawler.CrawlJob, error) {
	if err := params.validate(); err != nil {
		return crawler.CrawlJob{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("generate job id: %w", err)
	}

	job := crawler.CrawlJob{
		ID:         id,
		ProviderID: params.ProviderID,
		StartURL:   params.StartURL,
		SitemapURL: params.SitemapURL,
		MaxPages:   params.MaxPages,
		Status:     crawler.JobStatusQueued,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("provider_id", job.ProviderID),
		zap.Int("max_pages", job.MaxPages))
	return job, nil
}

// Get loads one job.
func (s *Service) Get(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	return s.store.GetJob(ctx, jobID)
}

// List returns jobs matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter crawler.JobFilter) ([]crawler.CrawlJob, error) {
	return s.store.ListJobs(ctx, filter)
}

// Stats aggregates job counts per status.
func (s *Service) Stats(ctx context.Context) (crawler.JobStats, error) {
	return s.store.CountJobs(ctx)
}

// Pause requests a running job to stop after its current page. The
// worker notices between pages and stops; page records are kept so a
// later resume continues where it left off.
func (s *Service) Pause(ctx context.Context, jobID string) error {
	return s.store.RequestStatus(ctx, jobID, crawler.JobStatusPaused)
}

// Resume requeues a paused job for any worker to claim.
func (s *Service) Resume(ctx context.Context, jobID string) error {
	return s.store.RequestStatus(ctx, jobID, crawler.JobStatusQueued)
}

// Cancel terminates a queued or running job.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.store.RequestStatus(ctx, jobID, crawler.JobStatusCanceled)
}

// Retry clones a failed or canceled job into a fresh queued job. The
// clone starts from scratch; it shares nothing with the original but
// its parameters. Succeeded jobs are not retryable.
func (s *Service) Retry(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	prev, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	if prev.Status != crawler.JobStatusFailed && prev.Status != crawler.JobStatusCanceled {
		return crawler.CrawlJob{}, fmt.Errorf("retry job %s: %w", jobID, crawler.ErrInvalidTransition)
	}
	return s.Create(ctx, CreateJobParams{
		ProviderID: prev.ProviderID,
		StartURL:   prev.StartURL,
		SitemapURL: prev.SitemapURL,
		MaxPages:   prev.MaxPages,
	})
}

// Delete removes a finished or paused job with its pages. Extracted
// products are kept; the review pipeline owns them. Queued and running
// jobs must be canceled first.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	return s.store.DeleteJob(ctx, jobID)
}

// Pages lists the page records of a job.
func (s *Service) Pages(ctx context.Context, jobID string) ([]crawler.CrawlPage, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListPages(ctx, jobID)
}

// Products lists the extracted candidates of a job.
func (s *Service) Products(ctx context.Context, jobID string) ([]crawler.ExtractedProduct, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListProducts(ctx, jobID)
}
