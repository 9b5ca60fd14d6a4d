// Package collyfetcher issues the crawler's GETs through gocolly: sitemaps,
// article metadata and engagement pages all go through one rate-limited,
// retrying Fetcher.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/metrics"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 64 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps response bodies; monthly sitemaps can run to tens of megabytes.
	MaxBodyBytes int
	// Retry repeats transient failures. Nil means one attempt.
	Retry crawler.RetryPolicy
}

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements crawler.Fetcher. Every attempt, retries included, waits
// on the limiter first.
type Fetcher struct {
	cfg       Config
	limiter   Waiter
	transport http.RoundTripper
	base      *colly.Collector
	sleep     func(ctx context.Context, d time.Duration) error
}

// callbacks is the subset of *colly.Collector one attempt registers on.
type callbacks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attempt collects what the callbacks saw during one Visit.
type attempt struct {
	resp   crawler.FetchResponse
	status int
	err    error
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	base := colly.NewCollector(colly.Async(false))
	// Comment pages and metadata chunks are revisited across runs.
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = true
	base.MaxBodySize = cfg.MaxBodyBytes
	transport := newTransport()
	base.WithTransport(transport)

	return &Fetcher{
		cfg:       cfg,
		limiter:   limiter,
		transport: transport,
		base:      base,
		sleep:     sleepCtx,
	}
}

// Fetch GETs request.URL, retrying per the configured policy.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	for tries := 1; ; tries++ {
		resp, err := f.fetchOnce(ctx, request)
		if err == nil || f.cfg.Retry == nil || !f.cfg.Retry.ShouldRetry(err, tries) {
			return resp, err
		}
		if waitErr := f.sleep(ctx, f.cfg.Retry.Backoff(tries)); waitErr != nil {
			return resp, err
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResponse{}, &crawler.TransportError{URL: request.URL, Err: err}
		}
	}
	a := &attempt{}
	c := f.collectorFor(request, time.Now(), a)

	done := make(chan error, 1)
	go func() { done <- c.Visit(request.URL) }()

	select {
	case <-ctx.Done():
		metrics.ObserveFetch(request.URL, 0, 0)
		return crawler.FetchResponse{}, &crawler.TransportError{URL: request.URL, Err: fmt.Errorf("fetch canceled: %w", ctx.Err())}
	case err := <-done:
		metrics.ObserveFetch(request.URL, a.status, len(a.resp.Body))
		if a.err != nil {
			err = a.err
		}
		if err != nil {
			return crawler.FetchResponse{}, &crawler.TransportError{URL: request.URL, StatusCode: a.status, Err: err}
		}
		return a.resp, nil
	}
}

func (f *Fetcher) collectorFor(request crawler.FetchRequest, start time.Time, a *attempt) *colly.Collector {
	c := f.base.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.SetRequestTimeout(f.cfg.Timeout)
	if f.transport != nil {
		c.WithTransport(f.transport)
	}
	register(c, request, start, a)
	return c
}

func register(cb callbacks, request crawler.FetchRequest, start time.Time, a *attempt) {
	cb.OnRequest(func(r *colly.Request) {
		applyHeaders(request.Headers, r)
	})
	cb.OnResponse(func(r *colly.Response) {
		a.status = r.StatusCode
		a.resp = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	// Non-2xx responses land here too, with r set.
	cb.OnError(func(r *colly.Response, err error) {
		if r != nil {
			a.status = r.StatusCode
		}
		a.err = err
	})
}

// applyHeaders replaces colly's defaults, such as User-Agent, with h.
func applyHeaders(h http.Header, r *colly.Request) {
	for key, values := range h {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
