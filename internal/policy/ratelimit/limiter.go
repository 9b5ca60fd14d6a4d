// Package ratelimit keeps outbound requests polite: one token bucket per host,
// with optional overrides for domains such as a newsroom's comment API.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/news-engagement-crawler/internal/metrics"
)

// HostLimit is a bucket size and refill rate. RPS <= 0 means unlimited.
type HostLimit struct {
	RPS   float64
	Burst int
}

func (h HostLimit) bucket() *rate.Limiter {
	r := rate.Limit(h.RPS)
	if h.RPS <= 0 {
		r = rate.Inf
	}
	return rate.NewLimiter(r, max(h.Burst, 1))
}

// Config holds rate limiter configuration. DefaultRPS <= 0 disables limiting
// for hosts without an override. Hosts keys match the host itself and any
// subdomain of it; the longest match wins.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Hosts        map[string]HostLimit
}

// Limiter hands out per-host tokens. Buckets are created on first use.
type Limiter struct {
	fallback  HostLimit
	overrides map[string]HostLimit

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	overrides := make(map[string]HostLimit, len(cfg.Hosts))
	for host, limit := range cfg.Hosts {
		host = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(host), "."))
		if host != "" {
			overrides[host] = limit
		}
	}
	return &Limiter{
		fallback:  HostLimit{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst},
		overrides: overrides,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Wait blocks until rawURL's host may be contacted or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.bucketFor(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) bucketFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	b := l.limitFor(host).bucket()
	l.buckets[host] = b
	return b
}

// limitFor walks host and its parent domains looking for an override.
func (l *Limiter) limitFor(host string) HostLimit {
	for candidate := host; candidate != ""; {
		if limit, ok := l.overrides[candidate]; ok {
			return limit
		}
		_, parent, found := strings.Cut(candidate, ".")
		if !found {
			break
		}
		candidate = parent
	}
	return l.fallback
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
