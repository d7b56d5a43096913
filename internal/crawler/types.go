// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// CrawlJob represents one bounded unit of crawling work for a provider.
// LeaseOwner and LeaseExpires are set if and only if the job is running.
type CrawlJob struct {
	ID           string     `json:"id"`
	ProviderID   string     `json:"provider_id"`
	StartURL     string     `json:"start_url"`
	SitemapURL   string     `json:"sitemap_url,omitempty"`
	MaxPages     int        `json:"max_pages,omitempty"`
	Status       JobStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LeaseOwner   string     `json:"lease_owner,omitempty"`
	LeaseExpires *time.Time `json:"lease_expires_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// PageStatus records the outcome of a single fetch attempt.
type PageStatus string

// Page status values.
const (
	PageStatusSucceeded PageStatus = "succeeded"
	PageStatusFailed    PageStatus = "failed"
)

// CrawlPage is persisted for each attempted fetch within a job.
// Rows are append-only; resumption skips URLs that already have one.
type CrawlPage struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	URL          string     `json:"url"`
	Status       PageStatus `json:"status"`
	HTTPStatus   int        `json:"http_status_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ContentHash  string     `json:"content_hash,omitempty"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// ProductStatus tracks the review lifecycle of an extracted candidate.
type ProductStatus string

// Product review states. Only Pending is written by this service; the
// remaining states belong to the downstream review pipeline.
const (
	ProductStatusPending   ProductStatus = "pending"
	ProductStatusApproved  ProductStatus = "approved"
	ProductStatusRejected  ProductStatus = "rejected"
	ProductStatusDuplicate ProductStatus = "duplicate"
)

// ExtractedProduct is a candidate product record produced by extraction.
// Its lifecycle is independent of the originating job.
type ExtractedProduct struct {
	ID                string        `json:"id"`
	JobID             string        `json:"job_id"`
	ProviderID        string        `json:"provider_id"`
	ExternalID        string        `json:"external_id,omitempty"`
	Name              string        `json:"name,omitempty"`
	Description       string        `json:"description,omitempty"`
	Price             float64       `json:"price,omitempty"`
	Currency          string        `json:"currency,omitempty"`
	ProductURL        string        `json:"product_url,omitempty"`
	ImageURLs         []string      `json:"image_urls,omitempty"`
	RawPayload        string        `json:"raw_payload,omitempty"`
	Status            ProductStatus `json:"status"`
	ImportedProductID string        `json:"imported_product_id,omitempty"`
	ReviewedAt        *time.Time    `json:"reviewed_at,omitempty"`
}

// FetchResult is returned by a Strategy for one URL.
type FetchResult struct {
	Success        bool
	HTTPStatus     int
	ContentHash    string
	Body           []byte
	Products       []ExtractedProduct
	DiscoveredURLs []string
	Error          error
}

// JobFilter narrows List queries.
type JobFilter struct {
	Status     JobStatus
	ProviderID string
	Limit      int
	Offset     int
}

// JobStats aggregates job counts per status.
type JobStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}

// CompletionEvent is published when a job reaches a terminal status.
type CompletionEvent struct {
	JobID      string    `json:"job_id"`
	ProviderID string    `json:"provider_id"`
	Status     JobStatus `json:"status"`
	Pages      int       `json:"pages"`
	Products   int       `json:"products"`
	FinishedAt time.Time `json:"finished_at"`
}
