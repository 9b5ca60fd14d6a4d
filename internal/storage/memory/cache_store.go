// Package memory provides in-process implementations of the store contracts
// for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

type sitemapKey struct {
	source string
	period string
}

type articleKey struct {
	source string
	id     string
}

// CacheStore implements the sitemap, article and snapshot repositories.
type CacheStore struct {
	mu        sync.RWMutex
	sitemaps  map[sitemapKey][]crawler.SitemapEntry
	articles  map[articleKey]crawler.Article
	snapshots map[string]crawler.Snapshot
}

var (
	_ store.SitemapRepository  = (*CacheStore)(nil)
	_ store.ArticleRepository  = (*CacheStore)(nil)
	_ store.SnapshotRepository = (*CacheStore)(nil)
)

// NewCacheStore constructs an empty CacheStore.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		sitemaps:  make(map[sitemapKey][]crawler.SitemapEntry),
		articles:  make(map[articleKey]crawler.Article),
		snapshots: make(map[string]crawler.Snapshot),
	}
}

func periodKey(source string, period time.Time) sitemapKey {
	return sitemapKey{source: source, period: period.Format(time.DateOnly)}
}

// FindSitemap implements store.SitemapRepository.
func (s *CacheStore) FindSitemap(_ context.Context, source string, period time.Time) ([]crawler.SitemapEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.sitemaps[periodKey(source, period)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]crawler.SitemapEntry(nil), entries...), nil
}

// UpsertSitemap implements store.SitemapRepository.
func (s *CacheStore) UpsertSitemap(_ context.Context, source string, period time.Time, entries []crawler.SitemapEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sitemaps[periodKey(source, period)] = append([]crawler.SitemapEntry{}, entries...)
	return nil
}

// FindArticles implements store.ArticleRepository.
func (s *CacheStore) FindArticles(_ context.Context, source string, ids []string) ([]crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Article
	for _, id := range ids {
		if a, ok := s.articles[articleKey{source: source, id: id}]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpsertArticles implements store.ArticleRepository.
func (s *CacheStore) UpsertArticles(_ context.Context, source string, articles []crawler.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range articles {
		a.Source = source
		s.articles[articleKey{source: source, id: a.ID}] = a
	}
	return nil
}

// GetSnapshot implements store.SnapshotRepository.
func (s *CacheStore) GetSnapshot(_ context.Context, source string) (crawler.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[source]
	if !ok {
		return crawler.Snapshot{}, store.ErrNotFound
	}
	snap.Results = append([]crawler.Result{}, snap.Results...)
	return snap, nil
}

// UpsertSnapshot implements store.SnapshotRepository.
func (s *CacheStore) UpsertSnapshot(_ context.Context, snapshot crawler.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.Results = append([]crawler.Result{}, snapshot.Results...)
	s.snapshots[snapshot.Source] = snapshot
	return nil
}
