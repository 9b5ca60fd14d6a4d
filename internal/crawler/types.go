package crawler

import (
	"net/http"
	"time"
)

// SitemapEntry is one article URL listed by a site's sitemap document.
type SitemapEntry struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Candidate is an article discovered in a sitemap that survived date filtering.
type Candidate struct {
	ID    string
	URL   string
	Title string
}

// Article is the stable metadata resolved for one article id.
type Article struct {
	Source string `json:"source"`
	ID     string `json:"article_id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	// Type is the site-specific category code some engagement endpoints require.
	Type int `json:"type"`
}

// Engagement is a best-effort snapshot of reactions and comments for one article.
type Engagement struct {
	Reactions int `json:"reactions"`
	Comments  int `json:"comments"`
}

// EngagementPage is one page of a paginated comment endpoint.
type EngagementPage struct {
	// Reactions is the sum of reaction counts across the page's items.
	Reactions int
	// Items is the number of comments returned on the page.
	Items int
	// PageSize is the size requested; fewer items means the end of data.
	PageSize int
}

// Result is one ranked entry of a crawl snapshot.
type Result struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Reactions int    `json:"reactions"`
	Comments  int    `json:"comments"`
}

// Snapshot is the latest ranked result list persisted for a source.
type Snapshot struct {
	Source    string    `json:"source"`
	Results   []Result  `json:"results"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RankPolicy selects the key results are ordered by.
type RankPolicy string

// Supported ranking policies.
const (
	RankByReactions            RankPolicy = "reactions"
	RankByReactionsAndComments RankPolicy = "reactions_comments"
)

// Valid reports whether p is a known policy.
func (p RankPolicy) Valid() bool {
	switch p {
	case RankByReactions, RankByReactionsAndComments:
		return true
	default:
		return false
	}
}

// Key returns the ranking key of r under p.
func (p RankPolicy) Key(r Result) int {
	if p == RankByReactionsAndComments {
		return r.Reactions + r.Comments
	}
	return r.Reactions
}

// FetchRequest captures everything needed to issue one GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a crawl waiting for a background worker.
type QueueItem struct {
	RunID     string
	Source    string
	Days      int
	Trigger   string
	Submitted int64
}
