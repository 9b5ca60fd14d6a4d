package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiterSpacesRequestsToOneHost(t *testing.T) {
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://usi-saas.vnexpress.net/index/get"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://usi-saas.vnexpress.net/index/get?offset=100"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterKeepsHostsIndependent(t *testing.T) {
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://vnexpress.net/articles-2024-sitemap.xml"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://tuoitre.vn/StaticSitemaps/sitemaps-2024-03.xml"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterWithoutRateIsUnlimited(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(ctx, "https://id.tuoitre.vn/api/getlist-comment.api"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterCanceledContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://gw.vnexpress.net/ar/get_basic"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx, "https://gw.vnexpress.net/ar/get_basic")
	require.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "gw.vnexpress.net")
}

func TestLimiterHostOverrides(t *testing.T) {
	l := New(Config{
		DefaultRPS:   5,
		DefaultBurst: 10,
		Hosts: map[string]HostLimit{
			"vnexpress.net":          {RPS: 2, Burst: 4},
			"USI-SAAS.vnexpress.net": {RPS: 0.5},
			" ":                      {RPS: 100},
		},
	})

	cases := []struct {
		url   string
		limit rate.Limit
		burst int
	}{
		{url: "https://usi-saas.vnexpress.net/index/get", limit: 0.5, burst: 1},
		{url: "https://gw.vnexpress.net/ar/get_basic", limit: 2, burst: 4},
		{url: "https://vnexpress.net/sitemap.xml", limit: 2, burst: 4},
		{url: "https://notvnexpress.net/", limit: 5, burst: 10},
		{url: "https://tuoitre.vn/sitemap.xml", limit: 5, burst: 10},
		{url: "::bad", limit: 5, burst: 10},
	}
	for _, tc := range cases {
		b := l.bucketFor(hostOf(tc.url))
		assert.Equal(t, tc.limit, b.Limit(), tc.url)
		assert.Equal(t, tc.burst, b.Burst(), tc.url)
	}
	assert.Same(t, l.bucketFor("gw.vnexpress.net"), l.bucketFor("gw.vnexpress.net"))
}
