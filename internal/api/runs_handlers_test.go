package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-engagement-crawler/internal/storage/memory"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

func seedRuns(t *testing.T, repo *memory.RunStore) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	done := uuid.New()
	running := uuid.New()
	require.NoError(t, repo.UpsertRunStart(ctx, store.Run{
		ID:        done,
		Source:    "vnexpress",
		Days:      7,
		Trigger:   "api",
		StartedAt: testNow.Add(-time.Hour),
	}))
	require.NoError(t, repo.CompleteRun(ctx, done, testNow.Add(-30*time.Minute), store.RunSuccess, 10, nil))
	require.NoError(t, repo.UpsertRunStart(ctx, store.Run{
		ID:        running,
		Source:    "tuoitre",
		Days:      3,
		Trigger:   "schedule",
		StartedAt: testNow,
	}))
	require.NoError(t, repo.UpdateRunProgress(ctx, running, 25, "Fetching article metadata...", testNow))
	return done, running
}

func TestRunsHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	done, _ := seedRuns(t, repo)
	handler := NewRunsHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/runs?source=vnexpress&status=success&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, done.String(), body.Runs[0].ID)
	require.Equal(t, "success", body.Runs[0].Status)
	require.Equal(t, 10, body.Runs[0].ResultCount)
	require.NotNil(t, body.Runs[0].FinishedAt)
}

func TestRunsHandlerListRunsInvalidParams(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(memory.NewRunStore(), zap.NewNop())
	for _, target := range []string{
		"/api/runs?status=bogus",
		"/api/runs?limit=0",
		"/api/runs?limit=abc",
		"/api/runs?offset=-1",
	} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestRunsHandlerGetRun(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	_, running := seedRuns(t, repo)
	handler := NewRunsHandler(repo, zap.NewNop())

	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/api/runs/"+running.String(), nil), running.String())
	rec := httptest.NewRecorder()
	handler.GetRun(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "running", body.Run.Status)
	require.Equal(t, 25, body.Run.Percent)
	require.Equal(t, "Fetching article metadata...", body.Run.Message)
	require.Nil(t, body.Run.FinishedAt)
}

func TestRunsHandlerGetRunErrors(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(memory.NewRunStore(), zap.NewNop())

	missing := uuid.NewString()
	rec := httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/api/runs/"+missing, nil), missing))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil), "nope"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	broken := NewRunsHandler(&failingRunRepo{}, zap.NewNop())
	rec = httptest.NewRecorder()
	broken.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/api/runs/"+missing, nil), missing))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunsHandlerWithoutRepo(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunsRoutedThroughServer(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	_, running := seedRuns(t, ts.runs)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+running.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/runs?status=running", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), running.String())
}

func withRunIDParam(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("run_id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type failingRunRepo struct{ memory.RunStore }

func (*failingRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, errors.New("connection reset")
}
