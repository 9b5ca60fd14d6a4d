// Package catalog resolves article metadata through a permanent id-keyed cache.
package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/metrics"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

// DefaultChunkSize is the number of ids sent per metadata request.
const DefaultChunkSize = 100

// Catalog resolves article ids to metadata. Records are written once and
// never refetched; ids from a failed chunk stay uncached and are retried by
// the next run.
type Catalog struct {
	repo      store.ArticleRepository
	chunkSize int
	logger    *zap.Logger
}

// New constructs a Catalog. repo may be nil, in which case every id is fetched.
func New(repo store.ArticleRepository, chunkSize int, logger *zap.Logger) *Catalog {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{repo: repo, chunkSize: chunkSize, logger: logger.Named("catalog")}
}

// Resolve returns metadata for the candidates' ids in first-seen order.
// Unresolvable ids are absent from the result.
func (c *Catalog) Resolve(ctx context.Context, adapter crawler.SourceAdapter, candidates []crawler.Candidate) []crawler.Article {
	source := adapter.Name()
	logger := c.logger.With(zap.String("source", source))

	ids, byID := dedupe(candidates)
	if len(ids) == 0 {
		return []crawler.Article{}
	}

	known := make(map[string]crawler.Article, len(ids))
	for _, a := range c.find(ctx, logger, source, ids) {
		if _, requested := byID[a.ID]; requested {
			known[a.ID] = a
		}
	}
	cachedCount := len(known)

	var missing []crawler.Candidate
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, byID[id])
		}
	}

	resolved := c.fetchMissing(ctx, logger, adapter, missing, byID)
	metrics.ObserveCatalog(source, cachedCount, len(resolved))

	if len(resolved) > 0 {
		for _, a := range resolved {
			known[a.ID] = a
		}
		if c.repo != nil {
			if err := c.repo.UpsertArticles(ctx, source, resolved); err != nil {
				logger.Warn("failed to cache articles", zap.Int("count", len(resolved)), zap.Error(err))
			} else if reread, ok := c.reread(ctx, logger, source, ids); ok {
				known = reread
			}
		}
	}

	out := make([]crawler.Article, 0, len(known))
	for _, id := range ids {
		if a, ok := known[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// fetchMissing calls the adapter chunk by chunk. The returned records are
// restricted to requested ids and deduplicated with the last record winning.
func (c *Catalog) fetchMissing(
	ctx context.Context,
	logger *zap.Logger,
	adapter crawler.SourceAdapter,
	missing []crawler.Candidate,
	requested map[string]crawler.Candidate,
) []crawler.Article {
	var order []string
	latest := make(map[string]crawler.Article)
	for start := 0; start < len(missing); start += c.chunkSize {
		if ctx.Err() != nil {
			logger.Warn("metadata resolution canceled", zap.Int("remaining", len(missing)-start))
			break
		}
		end := min(start+c.chunkSize, len(missing))
		chunk := missing[start:end]
		articles, err := adapter.FetchArticles(ctx, chunk)
		if err != nil {
			logger.Warn("failed to fetch article metadata chunk",
				zap.Int("chunk_start", start), zap.Int("chunk_size", len(chunk)), zap.Error(err))
			continue
		}
		for _, a := range articles {
			if _, ok := requested[a.ID]; !ok {
				continue
			}
			a.Source = adapter.Name()
			if _, seen := latest[a.ID]; !seen {
				order = append(order, a.ID)
			}
			latest[a.ID] = a
		}
	}
	out := make([]crawler.Article, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

func (c *Catalog) find(ctx context.Context, logger *zap.Logger, source string, ids []string) []crawler.Article {
	if c.repo == nil {
		return nil
	}
	found, err := c.repo.FindArticles(ctx, source, ids)
	if err != nil {
		logger.Warn("article cache read failed; fetching all ids", zap.Error(err))
		return nil
	}
	return found
}

// reread loads the requested ids back from the store so callers see cache
// state rather than raw fetch results.
func (c *Catalog) reread(ctx context.Context, logger *zap.Logger, source string, ids []string) (map[string]crawler.Article, bool) {
	found, err := c.repo.FindArticles(ctx, source, ids)
	if err != nil {
		logger.Warn("article cache re-read failed; using fetched records", zap.Error(err))
		return nil, false
	}
	out := make(map[string]crawler.Article, len(found))
	for _, a := range found {
		out[a.ID] = a
	}
	return out, true
}

func dedupe(candidates []crawler.Candidate) ([]string, map[string]crawler.Candidate) {
	ids := make([]string, 0, len(candidates))
	byID := make(map[string]crawler.Candidate, len(candidates))
	for _, c := range candidates {
		if c.ID == "" {
			continue
		}
		if _, seen := byID[c.ID]; seen {
			continue
		}
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	return ids, byID
}
