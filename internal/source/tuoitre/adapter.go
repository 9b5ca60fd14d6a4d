// Package tuoitre implements the crawler.SourceAdapter for tuoitre.vn.
//
// Tuoi Tre publishes one static sitemap per month carrying article titles in
// image:title blocks. Article ids begin with the YYYYMMDD publish date, and
// the comment service is paginated by a 1-based page index.
package tuoitre

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// Name is the source id.
const Name = "tuoitre"

const (
	defaultSitemapBase   = "https://tuoitre.vn/StaticSitemaps"
	defaultEngagementURL = "https://id.tuoitre.vn/api/getlist-comment.api"
	// DefaultUserAgent is the identity sent with every request.
	DefaultUserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

	commentPageSize = 100
	// articleType is the category code the comment service expects for news.
	articleType = 1
)

var articleIDPattern = regexp.MustCompile(`(\d+)\.htm$`)

// Config overrides endpoints and identity. Zero values use the production defaults.
type Config struct {
	SitemapBase   string
	EngagementURL string
	UserAgent     string
	// Location is the zone embedded dates are interpreted in. Defaults to UTC.
	Location *time.Location
}

// Adapter talks to tuoitre.vn.
type Adapter struct {
	fetcher crawler.Fetcher
	cfg     Config
}

var _ crawler.SourceAdapter = (*Adapter)(nil)

// New builds an Adapter that issues requests through fetcher.
func New(fetcher crawler.Fetcher, cfg Config) *Adapter {
	if cfg.SitemapBase == "" {
		cfg.SitemapBase = defaultSitemapBase
	}
	if cfg.EngagementURL == "" {
		cfg.EngagementURL = defaultEngagementURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.SitemapBase = strings.TrimRight(cfg.SitemapBase, "/")
	return &Adapter{fetcher: fetcher, cfg: cfg}
}

// Name implements crawler.SourceAdapter.
func (a *Adapter) Name() string { return Name }

// SitemapPeriod returns the first of day's month.
func (a *Adapter) SitemapPeriod(day time.Time) time.Time { return crawler.MonthStart(day) }

// SitemapRequests implements crawler.SourceAdapter.
func (a *Adapter) SitemapRequests(period time.Time) []crawler.FetchRequest {
	u := fmt.Sprintf("%s/sitemaps-%04d-%02d.xml", a.cfg.SitemapBase, period.Year(), int(period.Month()))
	return []crawler.FetchRequest{{URL: u, Headers: a.headers()}}
}

type urlSet struct {
	URLs []struct {
		Loc    string `xml:"loc"`
		Images []struct {
			Title string `xml:"title"`
		} `xml:"image"`
	} `xml:"url"`
}

// ParseSitemap returns (url, title) pairs. Entries without an image title are dropped.
func (a *Adapter) ParseSitemap(raw []byte) ([]crawler.SitemapEntry, error) {
	var doc urlSet
	if err := xml.Unmarshal(bytes.TrimSpace(raw), &doc); err != nil {
		return nil, &crawler.ParseError{What: "tuoitre sitemap", Err: err}
	}
	entries := make([]crawler.SitemapEntry, 0, len(doc.URLs))
	for _, u := range doc.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || len(u.Images) == 0 {
			continue
		}
		title := stripCDATA(u.Images[0].Title)
		if title == "" {
			continue
		}
		entries = append(entries, crawler.SitemapEntry{URL: loc, Title: title})
	}
	return entries, nil
}

// stripCDATA removes CDATA markers that survive as literal text when the
// sitemap double-escapes them.
func stripCDATA(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<![CDATA[")
	s = strings.TrimSuffix(s, "]]>")
	return strings.TrimSpace(s)
}

// ExtractArticleID implements crawler.SourceAdapter.
func (a *Adapter) ExtractArticleID(rawURL string) (string, bool) {
	m := articleIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// EmbeddedDate parses the 8-digit YYYYMMDD prefix of id.
func (a *Adapter) EmbeddedDate(id string) (time.Time, bool) {
	if len(id) < 8 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102", id[:8], a.cfg.Location)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FetchArticles builds records from the sitemap candidates; the sitemap
// already carries everything the catalog stores.
func (a *Adapter) FetchArticles(_ context.Context, candidates []crawler.Candidate) ([]crawler.Article, error) {
	articles := make([]crawler.Article, 0, len(candidates))
	for _, c := range candidates {
		articles = append(articles, crawler.Article{
			Source: Name,
			ID:     c.ID,
			Title:  c.Title,
			URL:    c.URL,
			Type:   articleType,
		})
	}
	return articles, nil
}

type commentResponse struct {
	// Data is itself a JSON-encoded array.
	Data string `json:"Data"`
}

type comment struct {
	Reactions map[string]int `json:"reactions"`
}

// FetchEngagementPage loads page+1 of the comment list and sums every reaction kind.
func (a *Adapter) FetchEngagementPage(ctx context.Context, article crawler.Article, page int) (crawler.EngagementPage, error) {
	objType := article.Type
	if objType == 0 {
		objType = articleType
	}
	q := url.Values{}
	q.Set("pageindex", strconv.Itoa(page+1))
	q.Set("pagesize", strconv.Itoa(commentPageSize))
	q.Set("objId", article.ID)
	q.Set("objType", strconv.Itoa(objType))
	q.Set("sort", "2")

	body, err := crawler.Get(ctx, a.fetcher, crawler.FetchRequest{
		URL:     a.cfg.EngagementURL + "?" + q.Encode(),
		Headers: a.headers(),
	})
	if err != nil {
		return crawler.EngagementPage{}, err
	}
	var resp commentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return crawler.EngagementPage{}, &crawler.ParseError{What: "tuoitre comments", Err: err}
	}
	var comments []comment
	if strings.TrimSpace(resp.Data) != "" {
		if err := json.Unmarshal([]byte(resp.Data), &comments); err != nil {
			return crawler.EngagementPage{}, &crawler.ParseError{What: "tuoitre comment list", Err: err}
		}
	}
	out := crawler.EngagementPage{Items: len(comments), PageSize: commentPageSize}
	for _, c := range comments {
		for _, n := range c.Reactions {
			out.Reactions += n
		}
	}
	return out, nil
}

func (a *Adapter) headers() http.Header {
	h := http.Header{}
	h.Set("User-Agent", a.cfg.UserAgent)
	return h
}
