// Package vnexpress implements the crawler.SourceAdapter for vnexpress.net.
//
// The site publishes one sitemap per day, a batch metadata endpoint and an
// offset-paginated comment service. Article ids carry no date.
package vnexpress

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
const Name = "vnexpress"

const (
	defaultSitemapBase   = "https://vnexpress.net"
	defaultMetadataURL   = "https://gw.vnexpress.net/ar/get_basic"
	defaultEngagementURL = "https://usi-saas.vnexpress.net/index/get"
	// DefaultUserAgent is the identity sent with every request.
	DefaultUserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

	commentPageSize = 100
	siteID          = "1000000"
)

var articleIDPattern = regexp.MustCompile(`(\d+)\.html$`)

// Config overrides endpoints and identity. Zero values use the production defaults.
type Config struct {
	SitemapBase   string
	MetadataURL   string
	EngagementURL string
	UserAgent     string
}

// Adapter talks to vnexpress.net.
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
	if cfg.MetadataURL == "" {
		cfg.MetadataURL = defaultMetadataURL
	}
	if cfg.EngagementURL == "" {
		cfg.EngagementURL = defaultEngagementURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	cfg.SitemapBase = strings.TrimRight(cfg.SitemapBase, "/")
	return &Adapter{fetcher: fetcher, cfg: cfg}
}

// Name implements crawler.SourceAdapter.
func (a *Adapter) Name() string { return Name }

// SitemapPeriod returns the day itself; vnexpress publishes daily sitemaps.
func (a *Adapter) SitemapPeriod(day time.Time) time.Time { return crawler.Day(day) }

// SitemapRequests implements crawler.SourceAdapter.
func (a *Adapter) SitemapRequests(period time.Time) []crawler.FetchRequest {
	u := fmt.Sprintf("%s/articles-%d-sitemap.xml?m=%d&d=%d",
		a.cfg.SitemapBase, period.Year(), int(period.Month()), period.Day())
	return []crawler.FetchRequest{{URL: u, Headers: a.headers()}}
}

type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// ParseSitemap extracts every <loc> of a daily sitemap.
func (a *Adapter) ParseSitemap(raw []byte) ([]crawler.SitemapEntry, error) {
	var doc urlSet
	if err := xml.Unmarshal(bytes.TrimSpace(raw), &doc); err != nil {
		return nil, &crawler.ParseError{What: "vnexpress sitemap", Err: err}
	}
	entries := make([]crawler.SitemapEntry, 0, len(doc.URLs))
	for _, u := range doc.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		entries = append(entries, crawler.SitemapEntry{URL: loc})
	}
	return entries, nil
}

// ExtractArticleID implements crawler.SourceAdapter.
func (a *Adapter) ExtractArticleID(rawURL string) (string, bool) {
	m := articleIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// EmbeddedDate always reports false: vnexpress ids are sequence numbers.
func (a *Adapter) EmbeddedDate(string) (time.Time, bool) { return time.Time{}, false }

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type basicResponse struct {
	Code int `json:"code"`
	Data []struct {
		ArticleID   flexString `json:"article_id"`
		ArticleType int        `json:"article_type"`
		Title       string     `json:"title"`
		ShareURL    string     `json:"share_url"`
	} `json:"data"`
}

// FetchArticles resolves one chunk of ids through the get_basic endpoint.
func (a *Adapter) FetchArticles(ctx context.Context, candidates []crawler.Candidate) ([]crawler.Article, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	q := url.Values{}
	q.Set("article_id", strings.Join(ids, ","))
	q.Set("data_select", "title,share_url,article_type,publish_time")

	body, err := crawler.Get(ctx, a.fetcher, crawler.FetchRequest{
		URL:     a.cfg.MetadataURL + "?" + q.Encode(),
		Headers: a.headers(),
	})
	if err != nil {
		return nil, err
	}
	var resp basicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &crawler.ParseError{What: "vnexpress metadata", Err: err}
	}
	articles := make([]crawler.Article, 0, len(resp.Data))
	for _, item := range resp.Data {
		if item.ArticleID == "" {
			continue
		}
		articles = append(articles, crawler.Article{
			Source: Name,
			ID:     string(item.ArticleID),
			Title:  item.Title,
			URL:    item.ShareURL,
			Type:   item.ArticleType,
		})
	}
	return articles, nil
}

type commentResponse struct {
	Error int `json:"error"`
	Data  struct {
		Items []struct {
			UserLike int `json:"userlike"`
		} `json:"items"`
	} `json:"data"`
}

// FetchEngagementPage loads comments at offset page*100, sorted by likes.
func (a *Adapter) FetchEngagementPage(ctx context.Context, article crawler.Article, page int) (crawler.EngagementPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(page*commentPageSize))
	q.Set("limit", strconv.Itoa(commentPageSize))
	q.Set("frommobile", "0")
	q.Set("sort_by", "like")
	q.Set("is_onload", "1")
	q.Set("objectid", article.ID)
	q.Set("objecttype", strconv.Itoa(article.Type))
	q.Set("siteid", siteID)

	body, err := crawler.Get(ctx, a.fetcher, crawler.FetchRequest{
		URL:     a.cfg.EngagementURL + "?" + q.Encode(),
		Headers: a.headers(),
	})
	if err != nil {
		return crawler.EngagementPage{}, err
	}
	var resp commentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return crawler.EngagementPage{}, &crawler.ParseError{What: "vnexpress comments", Err: err}
	}
	out := crawler.EngagementPage{Items: len(resp.Data.Items), PageSize: commentPageSize}
	for _, item := range resp.Data.Items {
		out.Reactions += item.UserLike
	}
	return out, nil
}

func (a *Adapter) headers() http.Header {
	h := http.Header{}
	h.Set("User-Agent", a.cfg.UserAgent)
	h.Set("Referer", "https://vnexpress.net/")
	h.Set("Origin", "https://vnexpress.net")
	return h
}
