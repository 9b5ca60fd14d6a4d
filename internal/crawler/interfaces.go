package crawler

import (
	"context"
	"io"
	"time"
)

// SourceAdapter isolates everything site-specific about one news source:
// request shapes, document parsing, id extraction and engagement paging.
// Adapters never cache or rank.
type SourceAdapter interface {
	// Name is the short source identifier, e.g. "vnexpress".
	Name() string
	// SitemapPeriod maps a day onto the key its sitemap is fetched and cached
	// under: the first of the month for month-scoped sites, the day itself for
	// day-scoped sites.
	SitemapPeriod(day time.Time) time.Time
	// SitemapRequests lists the GETs that together cover one period.
	SitemapRequests(period time.Time) []FetchRequest
	// ParseSitemap extracts entries, dropping ones that lack required fields.
	ParseSitemap(raw []byte) ([]SitemapEntry, error)
	// ExtractArticleID returns the trailing numeric id of an article URL.
	ExtractArticleID(url string) (string, bool)
	// EmbeddedDate returns the publish day encoded in an id, if the site has one.
	EmbeddedDate(id string) (time.Time, bool)
	// FetchArticles resolves metadata for one chunk of candidates.
	FetchArticles(ctx context.Context, candidates []Candidate) ([]Article, error)
	// FetchEngagementPage loads the zero-based page of comments for an article.
	FetchEngagementPage(ctx context.Context, article Article, page int) (EngagementPage, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RetryPolicy decides whether a failed fetch is repeated. attempt counts the
// tries made so far.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// BlobStore writes archived artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for background crawls.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
