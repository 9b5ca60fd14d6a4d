package engagement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/crawler/crawlertest"
)

func TestMeasureStopsOnShortPage(t *testing.T) {
	site := &crawlertest.Site{SourceName: "tuoitre", Engagement: crawlertest.FullPages(250, 100, 2)}
	got := New(DefaultMaxPages, zap.NewNop()).Measure(context.Background(), site, crawler.Article{ID: "a"})

	assert.Equal(t, crawler.Engagement{Reactions: 500, Comments: 250}, got)
	assert.Equal(t, 3, site.EngagementCalls("a"))
}

func TestMeasureStopsAtCap(t *testing.T) {
	// Exactly 2000 items at page size 100: all 20 pages are full, and the cap ends paging.
	site := &crawlertest.Site{SourceName: "vnexpress", Engagement: crawlertest.FullPages(2000, 100, 1)}
	got := New(DefaultMaxPages, zap.NewNop()).Measure(context.Background(), site, crawler.Article{ID: "a"})

	assert.Equal(t, crawler.Engagement{Reactions: 2000, Comments: 2000}, got)
	assert.Equal(t, 20, site.EngagementCalls("a"))

	huge := &crawlertest.Site{SourceName: "vnexpress", Engagement: crawlertest.FullPages(1_000_000, 100, 1)}
	got = New(DefaultMaxPages, zap.NewNop()).Measure(context.Background(), huge, crawler.Article{ID: "b"})
	assert.Equal(t, 2000, got.Comments)
	assert.Equal(t, 20, huge.EngagementCalls("b"))
}

func TestMeasureEmpty(t *testing.T) {
	site := &crawlertest.Site{SourceName: "vnexpress"}
	got := New(0, nil).Measure(context.Background(), site, crawler.Article{ID: "a"})
	assert.Equal(t, crawler.Engagement{}, got)
	assert.Equal(t, 1, site.EngagementCalls("a"))
}

func TestMeasureFailureZeroes(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	site := &crawlertest.Site{
		SourceName: "vnexpress",
		Engagement: func(_ crawler.Article, page int) (crawler.EngagementPage, error) {
			if page == 2 {
				return crawler.EngagementPage{}, &crawler.TransportError{URL: "x", StatusCode: 500}
			}
			return crawler.EngagementPage{Items: 100, Reactions: 50, PageSize: 100}, nil
		},
	}
	got := New(DefaultMaxPages, zap.New(core)).Measure(context.Background(), site, crawler.Article{ID: "a"})

	assert.Equal(t, crawler.Engagement{}, got)
	entries := logs.FilterMessage("failed to fetch engagement").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "a", entries[0].ContextMap()["article_id"])
	}
}
