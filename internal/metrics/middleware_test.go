package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetricsRouter(t *testing.T) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/results/{source}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "source") == "bbc" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	r.Post("/api/crawl", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("data: {\"progress\":5}\n\n"))
		f.Flush()
		assert.InDelta(t, 1, testutil.ToFloat64(sseStreamsActive.WithLabelValues("/api/crawl")), 0)
	})
	return r
}

func TestMiddlewareCountsByRoute(t *testing.T) {
	Init()
	r := newMetricsRouter(t)
	route := "/api/results/{source}"
	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", route, "200"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", route, "404"))

	for _, path := range []string{"/api/results/vnexpress", "/api/results/tuoitre", "/api/results/bbc"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", route, "200")), 0)
	assert.InDelta(t, missBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", route, "404")), 0)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareTracksEventStreams(t *testing.T) {
	Init()
	r := newMetricsRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/crawl", nil))

	assert.True(t, rec.Flushed)
	assert.Equal(t, "data: {\"progress\":5}\n\n", rec.Body.String())
	assert.InDelta(t, 0, testutil.ToFloat64(sseStreamsActive.WithLabelValues("/api/crawl")), 0)
	assert.Positive(t, testutil.CollectAndCount(sseStreamDurationSeconds))
	assert.Positive(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/api/crawl", "200")))
}
