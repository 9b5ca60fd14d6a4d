package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/config"
	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/crawler/crawlertest"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("CRAWLER_DATABASE_DRIVER", "memory")
	t.Setenv("CRAWLER_LOGGING_DEVELOPMENT", "false")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildRegistryRegistersEnabledSources(t *testing.T) {
	cfg := memoryConfig(t)
	loc, err := cfg.Location()
	require.NoError(t, err)

	registry, err := buildRegistry(cfg, &crawlertest.Site{}, loc)
	require.NoError(t, err)
	assert.Equal(t, []string{"tuoitre", "vnexpress"}, registry.Names())

	entry, err := registry.Resolve("tuoitre")
	require.NoError(t, err)
	assert.Equal(t, crawler.RankByReactionsAndComments, entry.Policy)
	entry, err = registry.Resolve("vnexpress")
	require.NoError(t, err)
	assert.Equal(t, crawler.RankByReactions, entry.Policy)
}

func TestBuildRegistryRejectsUnknownSource(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Sources["bbc"] = config.SourceConfig{Enabled: true, RankBy: string(crawler.RankByReactions)}

	_, err := buildRegistry(cfg, &crawlertest.Site{}, time.UTC)
	require.ErrorContains(t, err, "sources.bbc")
}

func TestBuildWithMemoryBackends(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Schedule.Enabled = true
	cfg.Schedule.Jobs = []config.ScheduleJob{{Source: "vnexpress", Days: 1, Cron: "0 6 * * *"}}

	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		app.Close(ctx)
	})

	assert.Equal(t, []string{"tuoitre", "vnexpress"}, app.Service().Sources())
	require.NotNil(t, app.Scheduler())
	require.Len(t, app.Scheduler().Entries(), 1)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sources":["tuoitre","vnexpress"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results/vnexpress", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
