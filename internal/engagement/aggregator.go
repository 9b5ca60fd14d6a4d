// Package engagement measures reactions and comments for one article by
// paging through the site's comment endpoint.
package engagement

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/metrics"
)

// DefaultMaxPages bounds the pages read per article. Hitting the cap is an
// accepted undercount, not an error.
const DefaultMaxPages = 20

// Aggregator sums engagement pages. Results are never cached.
type Aggregator struct {
	maxPages int
	logger   *zap.Logger
}

// New constructs an Aggregator.
func New(maxPages int, logger *zap.Logger) *Aggregator {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{maxPages: maxPages, logger: logger.Named("engagement")}
}

// Measure pages until a short page or the cap. Any failure zeroes the
// measurement for this article only.
func (a *Aggregator) Measure(ctx context.Context, adapter crawler.SourceAdapter, article crawler.Article) crawler.Engagement {
	var total crawler.Engagement
	for page := 0; page < a.maxPages; page++ {
		p, err := adapter.FetchEngagementPage(ctx, article, page)
		if err != nil {
			metrics.ObserveEngagementFailure(adapter.Name())
			a.logger.Warn("failed to fetch engagement",
				zap.String("source", adapter.Name()),
				zap.String("article_id", article.ID),
				zap.Int("page", page),
				zap.Error(err))
			return crawler.Engagement{}
		}
		total.Reactions += p.Reactions
		total.Comments += p.Items
		if p.Items < p.PageSize || p.Items == 0 {
			break
		}
	}
	return total
}
