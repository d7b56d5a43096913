// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loferreiranuno/momarq-crawler/internal/crawler"
)

// JobStoreConfig controls the Postgres connection pool used for crawl
// job state.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore persists crawl jobs, page records and extracted products,
// and arbitrates job leases across workers.
type JobStore struct {
	pool dbPool
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, provider_id, start_url, sitemap_url, max_pages, status,
	created_at, started_at, paused_at, canceled_at, completed_at,
	lease_owner, lease_expires, error_message`

func scanJob(row pgx.Row) (crawler.CrawlJob, error) {
	var job crawler.CrawlJob
	err := row.Scan(
		&job.ID,
		&job.ProviderID,
		&job.StartURL,
		&job.SitemapURL,
		&job.MaxPages,
		&job.Status,
		&job.CreatedAt,
		&job.StartedAt,
		&job.PausedAt,
		&job.CanceledAt,
		&job.CompletedAt,
		&job.LeaseOwner,
		&job.LeaseExpires,
		&job.ErrorMessage,
	)
	return job, err
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.CrawlJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	query := `
		INSERT INTO crawl_jobs (id, provider_id, start_url, sitemap_url, max_pages, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		job.ID, job.ProviderID, job.StartURL, job.SitemapURL, job.MaxPages, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert crawl job: %w", err)
	}
	return nil
}

// GetJob loads one job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlJob{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("select crawl job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs, newest first, honoring the filter.
func (s *JobStore) ListJobs(ctx context.Context, filter crawler.JobFilter) ([]crawler.CrawlJob, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ProviderID != "" {
		args = append(args, filter.ProviderID)
		conds = append(conds, fmt.Sprintf("provider_id = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM crawl_jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list crawl jobs: %w", err)
	}
	defer rows.Close()

	var jobs []crawler.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list crawl jobs: %w", err)
	}
	return jobs, nil
}

// CountJobs aggregates job counts per status.
func (s *JobStore) CountJobs(ctx context.Context) (crawler.JobStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM crawl_jobs GROUP BY status`)
	if err != nil {
		return crawler.JobStats{}, fmt.Errorf("count crawl jobs: %w", err)
	}
	defer rows.Close()

	var stats crawler.JobStats
	for rows.Next() {
		var (
			status crawler.JobStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return crawler.JobStats{}, fmt.Errorf("scan job count: %w", err)
		}
		stats.Total += count
		switch status {
		case crawler.JobStatusQueued:
			stats.Queued = count
		case crawler.JobStatusRunning:
			stats.Running = count
		case crawler.JobStatusPaused:
			stats.Paused = count
		case crawler.JobStatusSucceeded:
			stats.Succeeded = count
		case crawler.JobStatusFailed:
			stats.Failed = count
		case crawler.JobStatusCanceled:
			stats.Canceled = count
		}
	}
	if err := rows.Err(); err != nil {
		return crawler.JobStats{}, fmt.Errorf("count crawl jobs: %w", err)
	}
	return stats, nil
}

// ClaimJob takes the oldest queued job, or a running job whose lease
// expired, in one compare-and-swap statement. SKIP LOCKED keeps
// concurrent claimers from blocking on the same row.
func (s *JobStore) ClaimJob(ctx context.Context, workerID string, expires time.Time) (crawler.CrawlJob, error) {
	query := `
		UPDATE crawl_jobs SET
			status = 'running',
			lease_owner = $1,
			lease_expires = $2,
			started_at = COALESCE(started_at, NOW())
		WHERE id = (
			SELECT id FROM crawl_jobs
			WHERE status = 'queued'
			   OR (status = 'running' AND lease_expires < NOW())
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	job, err := scanJob(s.pool.QueryRow(ctx, query, workerID, expires))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlJob{}, crawler.ErrNoJob
	}
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("claim crawl job: %w", err)
	}
	return job, nil
}

// RenewLease extends the lease if the worker still owns the job.
func (s *JobStore) RenewLease(ctx context.Context, jobID, workerID string, expires time.Time) (bool, error) {
	query := `
		UPDATE crawl_jobs SET lease_expires = $3
		WHERE id = $1 AND lease_owner = $2 AND status = 'running'`
	tag, err := s.pool.Exec(ctx, query, jobID, workerID, expires)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishJob releases the lease and records the outcome. Only the
// current lease owner may finish a running job.
func (s *JobStore) FinishJob(ctx context.Context, jobID, workerID string, status crawler.JobStatus, errMsg string) error {
	query := `
		UPDATE crawl_jobs SET
			status = $3,
			lease_owner = '',
			lease_expires = NULL,
			error_message = $4,
			paused_at = CASE WHEN $3::text = 'paused' THEN NOW() ELSE paused_at END,
			canceled_at = CASE WHEN $3::text = 'canceled' THEN NOW() ELSE canceled_at END,
			completed_at = CASE WHEN $3::text IN ('succeeded', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND lease_owner = $2 AND status = 'running'`
	tag, err := s.pool.Exec(ctx, query, jobID, workerID, status, errMsg)
	if err != nil {
		return fmt.Errorf("finish crawl job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return crawler.ErrInvalidTransition
}

// RequestStatus applies a control-surface transition (pause, resume,
// cancel) after validating it against the current status.
func (s *JobStore) RequestStatus(ctx context.Context, jobID string, status crawler.JobStatus) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !crawler.CanTransition(job.Status, status) {
		return crawler.ErrInvalidTransition
	}

	query := `
		UPDATE crawl_jobs SET
			status = $3,
			paused_at = CASE WHEN $3::text = 'paused' THEN NOW() ELSE paused_at END,
			canceled_at = CASE WHEN $3::text = 'canceled' THEN NOW() ELSE canceled_at END,
			lease_owner = CASE WHEN $3::text IN ('paused', 'canceled') THEN '' ELSE lease_owner END,
			lease_expires = CASE WHEN $3::text IN ('paused', 'canceled') THEN NULL ELSE lease_expires END
		WHERE id = $1 AND status = $2`
	tag, err := s.pool.Exec(ctx, query, jobID, job.Status, status)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race against another transition.
		return crawler.ErrInvalidTransition
	}
	return nil
}

// DeleteJob removes a job and, through the cascading foreign key, its
// pages. Extracted products stay behind for the review pipeline.
// Queued and running jobs are protected.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	query := `DELETE FROM crawl_jobs WHERE id = $1 AND status NOT IN ('queued', 'running')`
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("delete crawl job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return crawler.ErrJobActive
}

// RecordPage inserts one page visit record.
func (s *JobStore) RecordPage(ctx context.Context, page crawler.CrawlPage) error {
	query := `
		INSERT INTO crawl_pages (id, job_id, url, status, http_status, error_message, content_hash, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		page.ID, page.JobID, page.URL, page.Status, page.HTTPStatus,
		page.ErrorMessage, page.ContentHash, page.FetchedAt)
	if err != nil {
		return fmt.Errorf("insert crawl page: %w", err)
	}
	return nil
}

// ListPages returns the page records for a job in visit order.
func (s *JobStore) ListPages(ctx context.Context, jobID string) ([]crawler.CrawlPage, error) {
	query := `
		SELECT id, job_id, url, status, http_status, error_message, content_hash, fetched_at
		FROM crawl_pages WHERE job_id = $1 ORDER BY fetched_at`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list crawl pages: %w", err)
	}
	defer rows.Close()

	var pages []crawler.CrawlPage
	for rows.Next() {
		var page crawler.CrawlPage
		if err := rows.Scan(&page.ID, &page.JobID, &page.URL, &page.Status,
			&page.HTTPStatus, &page.ErrorMessage, &page.ContentHash, &page.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan crawl page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list crawl pages: %w", err)
	}
	return pages, nil
}

// PageURLSet returns the lowercased URLs a job already has page
// records for.
func (s *JobStore) PageURLSet(ctx context.Context, jobID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT LOWER(url) FROM crawl_pages WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list page urls: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan page url: %w", err)
		}
		set[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list page urls: %w", err)
	}
	return set, nil
}

// SaveProducts inserts extracted products.
func (s *JobStore) SaveProducts(ctx context.Context, products []crawler.ExtractedProduct) error {
	query := `
		INSERT INTO extracted_products (
			id, job_id, provider_id, external_id, name, description,
			price, currency, product_url, image_urls, raw_payload, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, p := range products {
		images, err := json.Marshal(p.ImageURLs)
		if err != nil {
			return fmt.Errorf("marshal image urls: %w", err)
		}
		if _, err := s.pool.Exec(ctx, query,
			p.ID, p.JobID, p.ProviderID, p.ExternalID, p.Name, p.Description,
			p.Price, p.Currency, p.ProductURL, images, p.RawPayload, p.Status); err != nil {
			return fmt.Errorf("insert product %s: %w", p.ID, err)
		}
	}
	return nil
}

// ListProducts returns the products extracted by a job.
func (s *JobStore) ListProducts(ctx context.Context, jobID string) ([]crawler.ExtractedProduct, error) {
	query := `
		SELECT id, job_id, provider_id, external_id, name, description,
			price, currency, product_url, image_urls, raw_payload, status,
			imported_product_id, reviewed_at
		FROM extracted_products WHERE job_id = $1 ORDER BY name`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []crawler.ExtractedProduct
	for rows.Next() {
		var (
			p      crawler.ExtractedProduct
			images []byte
		)
		if err := rows.Scan(&p.ID, &p.JobID, &p.ProviderID, &p.ExternalID, &p.Name,
			&p.Description, &p.Price, &p.Currency, &p.ProductURL, &images,
			&p.RawPayload, &p.Status, &p.ImportedProductID, &p.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &p.ImageURLs); err != nil {
				return nil, fmt.Errorf("decode image urls: %w", err)
			}
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

var _ crawler.JobStore = (*JobStore)(nil)
