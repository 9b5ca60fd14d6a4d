// Package crawlertest provides in-memory fakes of the crawler contracts for tests.
package crawlertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// Clock is a fixed, settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock reading t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now implements crawler.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var idPattern = regexp.MustCompile(`(\d+)\.htm$`)

// Site is a fake news site. It implements both crawler.SourceAdapter and
// crawler.Fetcher: sitemap requests are served from Sitemaps as JSON
// documents, metadata from Articles and engagement from Engagement.
type Site struct {
	SourceName string
	// MonthScoped selects month sitemaps; otherwise one sitemap per day.
	MonthScoped bool
	// DateEmbedded makes EmbeddedDate parse the 8-digit id prefix.
	DateEmbedded bool
	Location     *time.Location

	// Sitemaps is keyed by period formatted as YYYY-MM-DD.
	Sitemaps map[string][]crawler.SitemapEntry
	// SitemapStatus forces an HTTP status for a period key.
	SitemapStatus map[string]int
	// Articles is the remote metadata by id. Ids absent here are not returned.
	Articles map[string]crawler.Article
	// MetadataErr fails metadata chunks containing any of these ids.
	MetadataErr map[string]bool
	// Engagement returns one page of engagement. Nil means no comments.
	Engagement func(article crawler.Article, page int) (crawler.EngagementPage, error)

	mu              sync.Mutex
	sitemapFetches  map[string]int
	metadataCalls   [][]string
	engagementCalls map[string]int
}

var (
	_ crawler.SourceAdapter = (*Site)(nil)
	_ crawler.Fetcher       = (*Site)(nil)
)

// Name implements crawler.SourceAdapter.
func (s *Site) Name() string { return s.SourceName }

func (s *Site) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// SitemapPeriod implements crawler.SourceAdapter.
func (s *Site) SitemapPeriod(day time.Time) time.Time {
	if s.MonthScoped {
		return crawler.MonthStart(day)
	}
	return crawler.Day(day)
}

// SitemapRequests implements crawler.SourceAdapter.
func (s *Site) SitemapRequests(period time.Time) []crawler.FetchRequest {
	return []crawler.FetchRequest{{URL: "fake://" + s.SourceName + "/sitemap/" + period.Format(time.DateOnly)}}
}

// ParseSitemap decodes the JSON documents served by Fetch.
func (s *Site) ParseSitemap(raw []byte) ([]crawler.SitemapEntry, error) {
	var entries []crawler.SitemapEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &crawler.ParseError{What: "fake sitemap", Err: err}
	}
	return entries, nil
}

// ExtractArticleID matches a trailing "<digits>.htm".
func (s *Site) ExtractArticleID(url string) (string, bool) {
	m := idPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// EmbeddedDate implements crawler.SourceAdapter.
func (s *Site) EmbeddedDate(id string) (time.Time, bool) {
	if !s.DateEmbedded || len(id) < 8 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102", id[:8], s.loc())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FetchArticles implements crawler.SourceAdapter.
func (s *Site) FetchArticles(_ context.Context, candidates []crawler.Candidate) ([]crawler.Article, error) {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	s.mu.Lock()
	s.metadataCalls = append(s.metadataCalls, ids)
	s.mu.Unlock()

	var out []crawler.Article
	for _, id := range ids {
		if s.MetadataErr[id] {
			return nil, &crawler.TransportError{URL: "fake://metadata", StatusCode: http.StatusBadGateway}
		}
		if a, ok := s.Articles[id]; ok {
			a.Source = s.SourceName
			out = append(out, a)
		}
	}
	return out, nil
}

// FetchEngagementPage implements crawler.SourceAdapter.
func (s *Site) FetchEngagementPage(_ context.Context, article crawler.Article, page int) (crawler.EngagementPage, error) {
	s.mu.Lock()
	if s.engagementCalls == nil {
		s.engagementCalls = make(map[string]int)
	}
	s.engagementCalls[article.ID]++
	s.mu.Unlock()
	if s.Engagement == nil {
		return crawler.EngagementPage{PageSize: 100}, nil
	}
	return s.Engagement(article, page)
}

// Fetch serves sitemap documents.
func (s *Site) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	prefix := "fake://" + s.SourceName + "/sitemap/"
	if !strings.HasPrefix(req.URL, prefix) {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	key := strings.TrimPrefix(req.URL, prefix)
	s.mu.Lock()
	if s.sitemapFetches == nil {
		s.sitemapFetches = make(map[string]int)
	}
	s.sitemapFetches[key]++
	s.mu.Unlock()

	if code, ok := s.SitemapStatus[key]; ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: code}, nil
	}
	entries := s.Sitemaps[key]
	if entries == nil {
		entries = []crawler.SitemapEntry{}
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("encode fake sitemap: %w", err)
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: body}, nil
}

// SitemapFetches reports how many times the period key was fetched.
func (s *Site) SitemapFetches(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sitemapFetches[key]
}

// TotalSitemapFetches reports all sitemap fetches.
func (s *Site) TotalSitemapFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.sitemapFetches {
		n += v
	}
	return n
}

// MetadataCalls returns the id chunks passed to FetchArticles.
func (s *Site) MetadataCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.metadataCalls...)
}

// EngagementCalls reports page fetches for one article.
func (s *Site) EngagementCalls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engagementCalls[id]
}

// FullPages returns an engagement function serving total items, size per page,
// with reactionsPerItem reactions on each item.
func FullPages(total, size, reactionsPerItem int) func(crawler.Article, int) (crawler.EngagementPage, error) {
	return func(_ crawler.Article, page int) (crawler.EngagementPage, error) {
		remaining := total - page*size
		if remaining < 0 {
			remaining = 0
		}
		if remaining > size {
			remaining = size
		}
		return crawler.EngagementPage{Items: remaining, Reactions: remaining * reactionsPerItem, PageSize: size}, nil
	}
}
