// Package memory provides an in-memory JobStore used by tests and by
// single-process deployments that do not need durable state.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// Store keeps jobs, pages and products in process memory. All methods
// are safe for concurrent use; claim semantics match the Postgres
// store so workers behave identically against either.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]crawler.CrawlJob
	pages    map[string][]crawler.CrawlPage
	products map[string][]crawler.ExtractedProduct
	now      func() time.Time
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]crawler.CrawlJob),
		pages:    make(map[string][]crawler.CrawlPage),
		products: make(map[string][]crawler.ExtractedProduct),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) CreateJob(_ context.Context, job crawler.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (crawler.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, crawler.ErrJobNotFound
	}
	return job, nil
}

func (s *Store) ListJobs(_ context.Context, filter crawler.JobFilter) ([]crawler.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]crawler.CrawlJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.ProviderID != "" && job.ProviderID != filter.ProviderID {
			continue
		}
		out = append(out, job)
	}
	// Newest first, matching the SQL ordering.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CountJobs(_ context.Context) (crawler.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats crawler.JobStats
	for _, job := range s.jobs {
		stats.Total++
		switch job.Status {
		case crawler.JobStatusQueued:
			stats.Queued++
		case crawler.JobStatusRunning:
			stats.Running++
		case crawler.JobStatusPaused:
			stats.Paused++
		case crawler.JobStatusSucceeded:
			stats.Succeeded++
		case crawler.JobStatusFailed:
			stats.Failed++
		case crawler.JobStatusCanceled:
			stats.Canceled++
		}
	}
	return stats, nil
}

// ClaimJob atomically takes ownership of the oldest claimable job: a
// queued job, or a running job whose lease has expired.
func (s *Store) ClaimJob(_ context.Context, workerID string, expires time.Time) (crawler.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *crawler.CrawlJob
	for id := range s.jobs {
		job := s.jobs[id]
		if !s.claimable(job, now) {
			continue
		}
		if best == nil || job.CreatedAt.Before(best.CreatedAt) {
			j := job
			best = &j
		}
	}
	if best == nil {
		return crawler.CrawlJob{}, crawler.ErrNoJob
	}

	best.Status = crawler.JobStatusRunning
	best.LeaseOwner = workerID
	exp := expires
	best.LeaseExpires = &exp
	if best.StartedAt == nil {
		started := now
		best.StartedAt = &started
	}
	s.jobs[best.ID] = *best
	return *best, nil
}

func (s *Store) claimable(job crawler.CrawlJob, now time.Time) bool {
	switch job.Status {
	case crawler.JobStatusQueued:
		return true
	case crawler.JobStatusRunning:
		return job.LeaseExpires != nil && job.LeaseExpires.Before(now)
	default:
		return false
	}
}

// RenewLease extends the lease when the caller still owns the job.
// It reports false once ownership was lost or the job left Running.
func (s *Store) RenewLease(_ context.Context, jobID, workerID string, expires time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, crawler.ErrJobNotFound
	}
	if job.Status != crawler.JobStatusRunning || job.LeaseOwner != workerID {
		return false, nil
	}
	exp := expires
	job.LeaseExpires = &exp
	s.jobs[jobID] = job
	return true, nil
}

// FinishJob moves an owned running job to a terminal status or back to
// Paused, clearing the lease either way.
func (s *Store) FinishJob(_ context.Context, jobID, workerID string, status crawler.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if job.Status != crawler.JobStatusRunning || job.LeaseOwner != workerID {
		return crawler.ErrInvalidTransition
	}

	now := s.now()
	job.Status = status
	job.LeaseOwner = ""
	job.LeaseExpires = nil
	job.ErrorMessage = errMsg
	switch status {
	case crawler.JobStatusPaused:
		job.PausedAt = &now
	case crawler.JobStatusCanceled:
		job.CanceledAt = &now
	case crawler.JobStatusSucceeded, crawler.JobStatusFailed:
		job.CompletedAt = &now
	}
	s.jobs[jobID] = job
	return nil
}

// RequestStatus applies a control-surface transition (pause, resume,
// cancel) after validating it against the state machine.
func (s *Store) RequestStatus(_ context.Context, jobID string, status crawler.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if !crawler.CanTransition(job.Status, status) {
		return crawler.ErrInvalidTransition
	}

	now := s.now()
	job.Status = status
	switch status {
	case crawler.JobStatusPaused:
		job.PausedAt = &now
		job.LeaseOwner = ""
		job.LeaseExpires = nil
	case crawler.JobStatusCanceled:
		job.CanceledAt = &now
		job.LeaseOwner = ""
		job.LeaseExpires = nil
	case crawler.JobStatusQueued:
		job.PausedAt = nil
	}
	s.jobs[jobID] = job
	return nil
}

func (s *Store) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if job.Status == crawler.JobStatusQueued || job.Status == crawler.JobStatusRunning {
		return crawler.ErrJobActive
	}
	delete(s.jobs, jobID)
	delete(s.pages, jobID)
	// Extracted products outlive job deletion; the review pipeline
	// owns their lifecycle.
	return nil
}

func (s *Store) RecordPage(_ context.Context, page crawler.CrawlPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.JobID] = append(s.pages[page.JobID], page)
	return nil
}

func (s *Store) ListPages(_ context.Context, jobID string) ([]crawler.CrawlPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := s.pages[jobID]
	out := make([]crawler.CrawlPage, len(pages))
	copy(out, pages)
	return out, nil
}

// PageURLSet returns the canonical URLs already visited for a job, so
// a resumed run skips pages it has records for.
func (s *Store) PageURLSet(_ context.Context, jobID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{}, len(s.pages[jobID]))
	for _, page := range s.pages[jobID] {
		set[strings.ToLower(page.URL)] = struct{}{}
	}
	return set, nil
}

func (s *Store) SaveProducts(_ context.Context, products []crawler.ExtractedProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.JobID] = append(s.products[p.JobID], p)
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context, jobID string) ([]crawler.ExtractedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := s.products[jobID]
	out := make([]crawler.ExtractedProduct, len(products))
	copy(out, products)
	return out, nil
}

var _ crawler.JobStore = (*Store)(nil)
