package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SitemapRepository caches parsed sitemap documents keyed by (source, period).
type SitemapRepository interface {
	// FindSitemap returns the cached entries or ErrNotFound.
	FindSitemap(ctx context.Context, source string, period time.Time) ([]crawler.SitemapEntry, error)
	// UpsertSitemap replaces the entries stored for (source, period).
	UpsertSitemap(ctx context.Context, source string, period time.Time, entries []crawler.SitemapEntry) error
}

// ArticleRepository caches article metadata keyed by (source, article id).
type ArticleRepository interface {
	// FindArticles returns the subset of ids present in the store, in no particular order.
	FindArticles(ctx context.Context, source string, ids []string) ([]crawler.Article, error)
	// UpsertArticles writes records; the last record for a repeated id wins.
	UpsertArticles(ctx context.Context, source string, articles []crawler.Article) error
}

// SnapshotRepository holds the latest ranked results per source.
type SnapshotRepository interface {
	GetSnapshot(ctx context.Context, source string) (crawler.Snapshot, error)
	UpsertSnapshot(ctx context.Context, snapshot crawler.Snapshot) error
}

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	default:
		return false
	}
}

// Run models one crawl invocation for the runs API.
type Run struct {
	ID      uuid.UUID
	Source  string
	Days    int
	Trigger string
	// Status is running/success/error.
	Status RunStatus
	// Percent and Message hold the latest progress report.
	Percent     int
	Message     string
	ResultCount int
	StartedAt   time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt   *time.Time
	ErrorMessage *string
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Source string
	Status *RunStatus
}

// RunRepository persists crawl run lifecycle rows.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) a running row.
	UpsertRunStart(ctx context.Context, run Run) error
	// UpdateRunProgress records the latest progress report.
	UpdateRunProgress(ctx context.Context, id uuid.UUID, percent int, message string, at time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		resultCount int,
		errMsg *string,
	) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter, limit, offset int) ([]Run, error)
}
