package crawler

import (
	"context"
	"time"
)

// JobStore persists jobs, pages, and extracted candidates. It is the
// only shared mutable resource; every status/lease mutation must be a
// single conditional update so concurrent workers cannot interleave.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	GetJob(ctx context.Context, jobID string) (CrawlJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]CrawlJob, error)
	CountJobs(ctx context.Context) (JobStats, error)

	// ClaimJob atomically selects the oldest queued job, or a running
	// job whose lease has expired, and marks it running under workerID
	// until expires. Returns ErrNoJob when nothing is claimable.
	ClaimJob(ctx context.Context, workerID string, expires time.Time) (CrawlJob, error)

	// RenewLease extends the lease only while workerID still owns it.
	// Losing the lease is not an error; the caller checks the bool.
	RenewLease(ctx context.Context, jobID, workerID string, expires time.Time) (bool, error)

	// FinishJob moves a running job to a terminal or paused status and
	// clears the lease fields, guarded by the current owner.
	FinishJob(ctx context.Context, jobID, workerID string, status JobStatus, errMsg string) error

	// RequestStatus applies a control-surface transition (pause, cancel,
	// resume). Transitions outside the state machine are rejected.
	RequestStatus(ctx context.Context, jobID string, status JobStatus) error

	DeleteJob(ctx context.Context, jobID string) error

	RecordPage(ctx context.Context, page CrawlPage) error
	ListPages(ctx context.Context, jobID string) ([]CrawlPage, error)
	// PageURLSet returns the URLs already attempted for a job, used to
	// make resumption idempotent.
	PageURLSet(ctx context.Context, jobID string) (map[string]struct{}, error)

	SaveProducts(ctx context.Context, products []ExtractedProduct) error
	ListProducts(ctx context.Context, jobID string) ([]ExtractedProduct, error)
}

// ConfigSource resolves the provider's crawler configuration for a job.
type ConfigSource interface {
	ConfigForProvider(ctx context.Context, providerID string) (Config, error)
}

// Strategy fetches and extracts for one crawler flavor (generic HTTP
// or browser-rendered).
type Strategy interface {
	// DiscoverURLs resolves the candidate URL set for a job. The page
	// budget is enforced by the caller, not here.
	DiscoverURLs(ctx context.Context, startURL, sitemapURL string, cfg Config) ([]string, error)
	// FetchAndExtract fetches one URL and returns content metadata,
	// extracted candidates, and newly discovered links.
	FetchAndExtract(ctx context.Context, rawURL string, cfg Config) FetchResult
}

// Renderer loads a page in a JavaScript-capable engine. It is a narrow
// capability so the browser engine stays a swappable collaborator.
type Renderer interface {
	Render(ctx context.Context, rawURL string, opts RenderOptions) (RenderedPage, error)
}

// RenderOptions tunes a single render call.
type RenderOptions struct {
	// WaitSelector, when set, is awaited after network idle. Absence of
	// the selector is non-fatal.
	WaitSelector string
	WaitTimeout  time.Duration
	// StateExpression is evaluated in the page to read an embedded
	// state JSON blob, e.g. "window.__PRELOADED_STATE__".
	StateExpression string
}

// RenderedPage is the outcome of a Renderer call.
type RenderedPage struct {
	HTML       string
	StatusCode int
	StateJSON  []byte
	FinalURL   string
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events downstream.
type Publisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
