// Package pipeline orchestrates one crawl run for a source:
//
//	Sitemap -> Filter -> Metadata -> Engagement -> Rank -> Done
//
// Each phase runs once. Failures of individual sitemaps, metadata chunks or
// engagement measurements degrade to empty or zero results inside the
// collaborators; the run itself fails only on invalid input, a canceled
// context or a snapshot that cannot be persisted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

// Defaults applied when Config leaves a value unset.
const (
	DefaultBatchSize = 10
	DefaultTopN      = 10
)

// Progress milestones and messages.
const (
	progressSitemaps   = 5
	progressFilter     = 15
	progressMetadata   = 25
	progressEngagement = 50
	progressEngageSpan = 45
	progressDone       = 100

	msgSitemaps   = "Fetching article URLs from sitemaps..."
	msgFilter     = "Filtering articles by date..."
	msgMetadata   = "Fetching article details..."
	msgEngagement = "Fetching engagement..."
	msgDone       = "Done!"
)

// ErrInvalidDays is returned when a run asks for fewer than one day.
var ErrInvalidDays = errors.New("days must be a positive integer")

// SitemapResolver resolves the sitemap covering one day.
type SitemapResolver interface {
	Resolve(ctx context.Context, adapter crawler.SourceAdapter, day time.Time) []crawler.SitemapEntry
}

// ArticleResolver resolves candidate metadata.
type ArticleResolver interface {
	Resolve(ctx context.Context, adapter crawler.SourceAdapter, candidates []crawler.Candidate) []crawler.Article
}

// EngagementMeter measures one article.
type EngagementMeter interface {
	Measure(ctx context.Context, adapter crawler.SourceAdapter, article crawler.Article) crawler.Engagement
}

// Config wires a Pipeline.
type Config struct {
	Sitemaps   SitemapResolver
	Catalog    ArticleResolver
	Engagement EngagementMeter
	Snapshots  store.SnapshotRepository
	Clock      crawler.Clock
	// Location defines calendar days for the window. Defaults to UTC.
	Location  *time.Location
	BatchSize int
	TopN      int
	Logger    *zap.Logger
	Tracer    trace.Tracer
}

// Request describes one run.
type Request struct {
	Adapter crawler.SourceAdapter
	Policy  crawler.RankPolicy
	Days    int
}

// Pipeline runs crawls. It holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	cfg Config
}

// New constructs a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Sitemaps == nil:
		return nil, fmt.Errorf("sitemap resolver is required")
	case cfg.Catalog == nil:
		return nil, fmt.Errorf("article resolver is required")
	case cfg.Engagement == nil:
		return nil, fmt.Errorf("engagement meter is required")
	case cfg.Snapshots == nil:
		return nil, fmt.Errorf("snapshot repository is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Logger = cfg.Logger.Named("pipeline")
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/JakeFAU/news-engagement-crawler/internal/pipeline")
	}
	return &Pipeline{cfg: cfg}, nil
}

// Crawl executes one run and returns the snapshot it persisted, holding at
// most TopN ranked results.
func (p *Pipeline) Crawl(ctx context.Context, req Request, sink crawler.ProgressSink) (crawler.Snapshot, error) {
	if req.Adapter == nil {
		return crawler.Snapshot{}, fmt.Errorf("adapter is required")
	}
	if req.Days < 1 {
		return crawler.Snapshot{}, fmt.Errorf("%w: got %d", ErrInvalidDays, req.Days)
	}
	policy := req.Policy
	if policy == "" {
		policy = crawler.RankByReactions
	}
	if !policy.Valid() {
		return crawler.Snapshot{}, fmt.Errorf("unsupported rank policy %q", policy)
	}
	if sink == nil {
		sink = crawler.DiscardProgress
	}

	source := req.Adapter.Name()
	logger := p.cfg.Logger.With(zap.String("source", source))
	ctx, span := p.cfg.Tracer.Start(ctx, "crawl", trace.WithAttributes(
		attribute.String("crawl.source", source),
		attribute.Int("crawl.days", req.Days),
	))
	defer span.End()

	started := time.Now()
	window := Window(crawler.Day(p.cfg.Clock.Now().In(p.cfg.Location)), req.Days)

	sink.Report(progressSitemaps, msgSitemaps)
	entries := p.sitemapPhase(ctx, req.Adapter, window)

	sink.Report(progressFilter, msgFilter)
	candidates := p.filterPhase(ctx, req.Adapter, entries, window)

	sink.Report(progressMetadata, msgMetadata)
	articles := p.metadataPhase(ctx, req.Adapter, candidates)

	sink.Report(progressEngagement, msgEngagement)
	results, err := p.engagementPhase(ctx, req.Adapter, articles, sink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engagement canceled")
		return crawler.Snapshot{}, err
	}

	ranked := p.rankPhase(ctx, results, policy)

	// A canceled run must not overwrite the previous snapshot.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "canceled before persist")
		return crawler.Snapshot{}, fmt.Errorf("crawl canceled: %w", err)
	}
	snapshot := crawler.Snapshot{Source: source, Results: ranked, UpdatedAt: p.cfg.Clock.Now().UTC()}
	if err := p.cfg.Snapshots.UpsertSnapshot(ctx, snapshot); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return crawler.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	sink.Report(progressDone, msgDone)

	logger.Info("crawl completed",
		zap.Int("days", req.Days),
		zap.Int("sitemap_entries", len(entries)),
		zap.Int("candidates", len(candidates)),
		zap.Int("articles", len(articles)),
		zap.Int("results", len(ranked)),
		zap.Duration("duration", time.Since(started)))
	return snapshot, nil
}

// sitemapPhase resolves each distinct period once, concurrently, and
// flattens the documents in window order.
func (p *Pipeline) sitemapPhase(ctx context.Context, adapter crawler.SourceAdapter, window []time.Time) []crawler.SitemapEntry {
	ctx, span := p.cfg.Tracer.Start(ctx, "crawl.sitemaps")
	defer span.End()

	days := DistinctPeriods(adapter, window)
	docs := make([][]crawler.SitemapEntry, len(days))
	var g errgroup.Group
	for i, day := range days {
		g.Go(func() error {
			docs[i] = p.cfg.Sitemaps.Resolve(ctx, adapter, day)
			return nil
		})
	}
	_ = g.Wait()

	var out []crawler.SitemapEntry
	for _, d := range docs {
		out = append(out, d...)
	}
	span.SetAttributes(attribute.Int("crawl.periods", len(days)), attribute.Int("crawl.entries", len(out)))
	return out
}

func (p *Pipeline) filterPhase(
	ctx context.Context,
	adapter crawler.SourceAdapter,
	entries []crawler.SitemapEntry,
	window []time.Time,
) []crawler.Candidate {
	_, span := p.cfg.Tracer.Start(ctx, "crawl.filter")
	defer span.End()

	out := Filter(adapter, entries, window)
	span.SetAttributes(attribute.Int("crawl.candidates", len(out)))
	return out
}

func (p *Pipeline) metadataPhase(ctx context.Context, adapter crawler.SourceAdapter, candidates []crawler.Candidate) []crawler.Article {
	ctx, span := p.cfg.Tracer.Start(ctx, "crawl.metadata")
	defer span.End()

	if len(candidates) == 0 {
		return nil
	}
	articles := p.cfg.Catalog.Resolve(ctx, adapter, candidates)
	span.SetAttributes(attribute.Int("crawl.articles", len(articles)))
	return articles
}

// engagementPhase measures articles in static batches: every measurement of
// a batch runs concurrently and the batch completes before the next starts.
func (p *Pipeline) engagementPhase(
	ctx context.Context,
	adapter crawler.SourceAdapter,
	articles []crawler.Article,
	sink crawler.ProgressSink,
) ([]crawler.Result, error) {
	ctx, span := p.cfg.Tracer.Start(ctx, "crawl.engagement")
	defer span.End()

	results := make([]crawler.Result, len(articles))
	size := p.cfg.BatchSize
	total := (len(articles) + size - 1) / size
	for b := 0; b < total; b++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("crawl canceled: %w", err)
		}
		start := b * size
		end := min(start+size, len(articles))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				a := articles[i]
				e := p.cfg.Engagement.Measure(ctx, adapter, a)
				results[i] = crawler.Result{Title: a.Title, URL: a.URL, Reactions: e.Reactions, Comments: e.Comments}
				return nil
			})
		}
		_ = g.Wait()

		sink.Report(
			progressEngagement+(b+1)*progressEngageSpan/total,
			fmt.Sprintf("Processing articles %d-%d...", start+1, end),
		)
	}
	span.SetAttributes(attribute.Int("crawl.batches", total))
	return results, nil
}

func (p *Pipeline) rankPhase(ctx context.Context, results []crawler.Result, policy crawler.RankPolicy) []crawler.Result {
	_, span := p.cfg.Tracer.Start(ctx, "crawl.rank", trace.WithAttributes(attribute.String("crawl.rank_by", string(policy))))
	defer span.End()
	return Rank(results, policy, p.cfg.TopN)
}
