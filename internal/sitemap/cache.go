// Package sitemap resolves sitemap documents through a period-keyed cache.
//
// Sitemaps for past months are immutable at the source, so they are fetched
// once and served from the store afterwards. The current calendar month is
// still being appended to and is always fetched fresh: the store is neither
// read nor written for it. A failed fetch yields an empty list and leaves the
// store untouched so a later run can retry.
package sitemap

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/metrics"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

// Cache implements the sitemap freshness policy.
type Cache struct {
	repo     store.SitemapRepository
	fetcher  crawler.Fetcher
	clock    crawler.Clock
	location *time.Location
	logger   *zap.Logger
}

// Config wires a Cache. Repo may be nil, which disables caching entirely.
type Config struct {
	Repo     store.SitemapRepository
	Fetcher  crawler.Fetcher
	Clock    crawler.Clock
	Location *time.Location
	Logger   *zap.Logger
}

// New constructs a Cache.
func New(cfg Config) *Cache {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Cache{
		repo:     cfg.Repo,
		fetcher:  cfg.Fetcher,
		clock:    cfg.Clock,
		location: cfg.Location,
		logger:   cfg.Logger.Named("sitemap"),
	}
}

// Resolve returns the sitemap entries covering day. Callers deduplicate days
// by adapter.SitemapPeriod before calling so each period is resolved once per run.
func (c *Cache) Resolve(ctx context.Context, adapter crawler.SourceAdapter, day time.Time) []crawler.SitemapEntry {
	source := adapter.Name()
	period := adapter.SitemapPeriod(day.In(c.location))
	logger := c.logger.With(zap.String("source", source), zap.String("period", periodLabel(adapter, period)))

	if c.repo == nil || crawler.SameMonth(period, c.clock.Now().In(c.location)) {
		metrics.ObserveSitemapLookup(source, "bypass")
		entries, err := c.fetch(ctx, adapter, period)
		if err != nil {
			metrics.ObserveSitemapLookup(source, "error")
			logger.Error("failed to fetch sitemap", zap.Error(err))
			return []crawler.SitemapEntry{}
		}
		return entries
	}

	cached, err := c.repo.FindSitemap(ctx, source, period)
	switch {
	case err == nil:
		metrics.ObserveSitemapLookup(source, "hit")
		return cached
	case errors.Is(err, store.ErrNotFound):
	default:
		logger.Warn("sitemap cache read failed; treating as miss", zap.Error(err))
	}

	metrics.ObserveSitemapLookup(source, "miss")
	entries, err := c.fetch(ctx, adapter, period)
	if err != nil {
		metrics.ObserveSitemapLookup(source, "error")
		logger.Error("failed to fetch sitemap", zap.Error(err))
		return []crawler.SitemapEntry{}
	}
	if err := c.repo.UpsertSitemap(ctx, source, period, entries); err != nil {
		logger.Warn("failed to cache sitemap", zap.Error(err))
	}
	return entries
}

// fetch issues every request for the period; any failure fails the whole period.
func (c *Cache) fetch(ctx context.Context, adapter crawler.SourceAdapter, period time.Time) ([]crawler.SitemapEntry, error) {
	entries := []crawler.SitemapEntry{}
	for _, req := range adapter.SitemapRequests(period) {
		body, err := crawler.Get(ctx, c.fetcher, req)
		if err != nil {
			return nil, err
		}
		parsed, err := adapter.ParseSitemap(body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}

// periodLabel renders month-scoped periods as YYYY-MM and day-scoped ones as YYYY-MM-DD.
func periodLabel(adapter crawler.SourceAdapter, period time.Time) string {
	if adapter.SitemapPeriod(period.AddDate(0, 0, 1)).Equal(period) {
		return period.Format("2006-01")
	}
	return period.Format(time.DateOnly)
}
