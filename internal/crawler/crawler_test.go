package crawler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(FetchResponse), args.Error(1)
}

func TestRankPolicyKey(t *testing.T) {
	r := Result{Reactions: 7, Comments: 3}
	assert.Equal(t, 7, RankByReactions.Key(r))
	assert.Equal(t, 10, RankByReactionsAndComments.Key(r))
	assert.True(t, RankByReactions.Valid())
	assert.False(t, RankPolicy("likes").Valid())
}

func TestDateHelpers(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	ts := time.Date(2024, time.March, 17, 23, 59, 0, 0, loc)

	day := Day(ts)
	assert.Equal(t, time.Date(2024, time.March, 17, 0, 0, 0, 0, loc), day)
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, loc), MonthStart(ts))
	assert.True(t, SameMonth(ts, time.Date(2024, time.March, 2, 0, 0, 0, 0, loc)))
	assert.False(t, SameMonth(ts, time.Date(2023, time.March, 17, 0, 0, 0, 0, loc)))
	assert.True(t, SameDay(ts, day))
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	req := FetchRequest{URL: "https://example.com/sitemap.xml", Headers: http.Header{}}

	t.Run("ok", func(t *testing.T) {
		f := new(mockFetcher)
		f.On("Fetch", ctx, req).Return(FetchResponse{StatusCode: 200, Body: []byte("<urlset/>")}, nil)
		body, err := Get(ctx, f, req)
		require.NoError(t, err)
		assert.Equal(t, "<urlset/>", string(body))
		f.AssertExpectations(t)
	})

	t.Run("non-2xx", func(t *testing.T) {
		f := new(mockFetcher)
		f.On("Fetch", ctx, req).Return(FetchResponse{StatusCode: 500}, nil)
		_, err := Get(ctx, f, req)
		require.ErrorIs(t, err, ErrTransport)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 500, te.StatusCode)
	})

	t.Run("fetch error", func(t *testing.T) {
		f := new(mockFetcher)
		f.On("Fetch", ctx, req).Return(FetchResponse{}, errors.New("dial tcp: refused"))
		_, err := Get(ctx, f, req)
		require.ErrorIs(t, err, ErrTransport)
		assert.Contains(t, err.Error(), "refused")
	})
}

func TestParseErrorMatchesSentinel(t *testing.T) {
	err := &ParseError{What: "sitemap", Err: errors.New("EOF")}
	assert.ErrorIs(t, err, ErrParse)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Equal(t, "parse sitemap: EOF", err.Error())
}

func TestProgressFunc(t *testing.T) {
	var got []int
	sink := ProgressFunc(func(p int, _ string) { got = append(got, p) })
	sink.Report(5, "a")
	sink.Report(100, "Done!")
	DiscardProgress.Report(50, "ignored")
	assert.Equal(t, []int{5, 100}, got)
}
