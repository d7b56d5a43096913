package postgres

import (
	"context"
	"fmt"
)

// schemaDDL creates the tables the store depends on. Deleting a job
// cascades to its pages; extracted products carry no foreign key so
// they survive job deletion for the review pipeline.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id            TEXT PRIMARY KEY,
	provider_id   TEXT NOT NULL,
	start_url     TEXT NOT NULL,
	sitemap_url   TEXT NOT NULL DEFAULT '',
	max_pages     INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	paused_at     TIMESTAMPTZ,
	canceled_at   TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	lease_owner   TEXT NOT NULL DEFAULT '',
	lease_expires TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS crawl_jobs_claimable
	ON crawl_jobs (created_at)
	WHERE status IN ('queued', 'running');

CREATE TABLE IF NOT EXISTS crawl_pages (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES crawl_jobs (id) ON DELETE CASCADE,
	url           TEXT NOT NULL,
	status        TEXT NOT NULL,
	http_status   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	fetched_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS crawl_pages_job ON crawl_pages (job_id);

CREATE TABLE IF NOT EXISTS extracted_products (
	id                  TEXT PRIMARY KEY,
	job_id              TEXT NOT NULL,
	provider_id         TEXT NOT NULL,
	external_id         TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	price               DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency            TEXT NOT NULL DEFAULT '',
	product_url         TEXT NOT NULL DEFAULT '',
	image_urls          JSONB NOT NULL DEFAULT '[]',
	raw_payload         TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'pending',
	imported_product_id TEXT NOT NULL DEFAULT '',
	reviewed_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS extracted_products_job ON extracted_products (job_id);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
