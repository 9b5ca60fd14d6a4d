package pipeline

import (
	"sort"
	"time"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// Window returns the days days preceding today, most recent first. Today is
// excluded because its engagement is still accumulating.
func Window(today time.Time, days int) []time.Time {
	today = crawler.Day(today)
	out := make([]time.Time, 0, max(days, 0))
	for i := 1; i <= days; i++ {
		out = append(out, today.AddDate(0, 0, -i))
	}
	return out
}

// DistinctPeriods keeps the first window day seen for each sitemap period.
// That day is what the resolver fetches and caches for the whole period.
func DistinctPeriods(adapter crawler.SourceAdapter, window []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(window))
	var out []time.Time
	for _, day := range window {
		key := adapter.SitemapPeriod(day)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, day)
	}
	return out
}

// Filter turns sitemap entries into candidates. Entries without an id are
// dropped, entries whose id embeds a date outside the window are dropped and
// repeated ids keep their first occurrence. Entries from sites whose ids carry
// no date are kept: their sitemaps are already scoped to a window day.
func Filter(adapter crawler.SourceAdapter, entries []crawler.SitemapEntry, window []time.Time) []crawler.Candidate {
	seen := make(map[string]struct{}, len(entries))
	out := make([]crawler.Candidate, 0, len(entries))
	for _, e := range entries {
		id, ok := adapter.ExtractArticleID(e.URL)
		if !ok || id == "" {
			continue
		}
		if published, ok := adapter.EmbeddedDate(id); ok && !inWindow(published, window) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, crawler.Candidate{ID: id, URL: e.URL, Title: e.Title})
	}
	return out
}

func inWindow(day time.Time, window []time.Time) bool {
	for _, d := range window {
		if crawler.SameDay(day, d) {
			return true
		}
	}
	return false
}

// Rank orders results by policy's key, highest first, and keeps the top n.
// Equal keys keep their input order.
func Rank(results []crawler.Result, policy crawler.RankPolicy, n int) []crawler.Result {
	out := append([]crawler.Result(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return policy.Key(out[i]) > policy.Key(out[j])
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	if out == nil {
		out = []crawler.Result{}
	}
	return out
}
