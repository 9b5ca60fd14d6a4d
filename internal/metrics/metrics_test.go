package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://vnexpress.net/path", "vnexpress.net"},
		{"standard https", "https://Tuoitre.VN/path", "tuoitre.vn"},
		{"no scheme", "gw.vnexpress.net/ar/get_basic", "gw.vnexpress.net"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{0: "error", 200: "2xx", 204: "2xx", 404: "4xx", 503: "5xx"}
	for code, want := range cases {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %q; want %q", code, got, want)
		}
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	ObserveFetch("https://usi-saas.vnexpress.net/index/get", 200, 512)
	if val := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("usi-saas.vnexpress.net", "2xx")); val < 1 {
		t.Errorf("expected fetch counter to be incremented, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("usi-saas.vnexpress.net")); val < 512 {
		t.Errorf("expected bytes counter >= 512, got %f", val)
	}

	ObserveSitemapLookup("metrics-test", "hit")
	if val := testutil.ToFloat64(sitemapLookupsTotal.WithLabelValues("metrics-test", "hit")); val != 1 {
		t.Errorf("expected one sitemap hit, got %f", val)
	}

	ObserveCatalog("metrics-test", 3, 0)
	if val := testutil.ToFloat64(catalogArticlesTotal.WithLabelValues("metrics-test", "cached")); val != 3 {
		t.Errorf("expected 3 cached articles, got %f", val)
	}

	ObserveEngagementFailure("metrics-test")
	if val := testutil.ToFloat64(engagementFailuresTotal.WithLabelValues("metrics-test")); val != 1 {
		t.Errorf("expected one engagement failure, got %f", val)
	}

	ObserveRateLimitDelay("metrics-test.local", 200*time.Millisecond)
	if val := testutil.CollectAndCount(crawlerRateLimitDelaysSeconds); val <= 0 {
		t.Errorf("expected rate limit histogram to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://vnexpress.net", "https://tuoitre.vn", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
