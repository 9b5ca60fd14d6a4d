// Package retry decides when a failed GET is worth repeating and how long to
// wait first. Newsroom comment APIs shed load with 429 and 503 responses
// that usually clear within a second or two.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// Config bounds retries. MaxAttempts counts the first try; values below 2
// disable retrying.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Exponential doubles the delay per attempt up to MaxDelay and picks a random
// point in the upper half of it.
type Exponential struct {
	cfg    Config
	jitter func(n int64) int64
}

// New returns an Exponential policy with defaults filled in.
func New(cfg Config) *Exponential {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &Exponential{cfg: cfg, jitter: rand.Int64N}
}

// ShouldRetry reports whether attempt, the number of tries made so far, may
// be followed by another after err.
func (p *Exponential) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.cfg.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *crawler.TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch {
	case te.StatusCode == 0:
		return true
	case te.StatusCode == http.StatusTooManyRequests:
		return true
	case te.StatusCode >= 500 && te.StatusCode != http.StatusNotImplemented:
		return true
	default:
		return false
	}
}

// Backoff returns the wait before retry number attempt (starting at 1).
func (p *Exponential) Backoff(attempt int) time.Duration {
	delay := p.cfg.BaseDelay
	for i := 1; i < attempt && delay < p.cfg.MaxDelay; i++ {
		delay *= 2
	}
	delay = min(delay, p.cfg.MaxDelay)
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(p.jitter(int64(half)+1))
}
