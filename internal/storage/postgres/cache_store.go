package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
	"github.com/JakeFAU/news-engagement-crawler/internal/store"
)

// SitemapStore implements store.SitemapRepository.
type SitemapStore struct {
	db querier
}

// NewSitemapStore wraps a pool.
func NewSitemapStore(db querier) *SitemapStore {
	return &SitemapStore{db: db}
}

// FindSitemap loads the cached entries for (source, period).
func (s *SitemapStore) FindSitemap(ctx context.Context, source string, period time.Time) ([]crawler.SitemapEntry, error) {
	query := `
		SELECT urls
		FROM cached_sitemaps
		WHERE source = $1 AND period = $2;
	`
	var raw []byte
	if err := s.db.QueryRow(ctx, query, source, period).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find sitemap: %w", err)
	}
	var entries []crawler.SitemapEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode sitemap urls: %w", err)
	}
	return entries, nil
}

// UpsertSitemap replaces the entries for (source, period).
func (s *SitemapStore) UpsertSitemap(
	ctx context.Context,
	source string,
	period time.Time,
	entries []crawler.SitemapEntry,
) error {
	if entries == nil {
		entries = []crawler.SitemapEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode sitemap urls: %w", err)
	}
	query := `
		INSERT INTO cached_sitemaps (source, period, urls, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source, period) DO UPDATE
		SET urls = EXCLUDED.urls, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.db.Exec(ctx, query, source, period, raw); err != nil {
		return fmt.Errorf("failed to upsert sitemap: %w", err)
	}
	return nil
}

// ArticleStore implements store.ArticleRepository.
type ArticleStore struct {
	db querier
}

// NewArticleStore wraps a pool.
func NewArticleStore(db querier) *ArticleStore {
	return &ArticleStore{db: db}
}

// FindArticles loads the cached subset of ids.
func (s *ArticleStore) FindArticles(ctx context.Context, source string, ids []string) ([]crawler.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT article_id, title, url, type
		FROM cached_articles
		WHERE source = $1 AND article_id = ANY($2);
	`
	rows, err := s.db.Query(ctx, query, source, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to find articles: %w", err)
	}
	defer rows.Close()

	var articles []crawler.Article
	for rows.Next() {
		var (
			a   crawler.Article
			typ int32
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a.Source = source
		a.Type = int(typ)
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}
	return articles, nil
}

// UpsertArticles writes all records in one statement. Postgres rejects a
// statement that updates the same row twice, so repeated ids are collapsed
// here with the last occurrence winning.
func (s *ArticleStore) UpsertArticles(ctx context.Context, source string, articles []crawler.Article) error {
	if len(articles) == 0 {
		return nil
	}
	index := make(map[string]int, len(articles))
	var (
		ids    []string
		titles []string
		urls   []string
		types  []int32
	)
	for _, a := range articles {
		if i, ok := index[a.ID]; ok {
			titles[i], urls[i], types[i] = a.Title, a.URL, int32(a.Type)
			continue
		}
		index[a.ID] = len(ids)
		ids = append(ids, a.ID)
		titles = append(titles, a.Title)
		urls = append(urls, a.URL)
		types = append(types, int32(a.Type))
	}
	query := `
		INSERT INTO cached_articles (source, article_id, title, url, type)
		SELECT $1, a.article_id, a.title, a.url, a.type
		FROM unnest($2::text[], $3::text[], $4::text[], $5::int[]) AS a(article_id, title, url, type)
		ON CONFLICT (source, article_id) DO UPDATE
		SET title = EXCLUDED.title, url = EXCLUDED.url, type = EXCLUDED.type;
	`
	if _, err := s.db.Exec(ctx, query, source, ids, titles, urls, types); err != nil {
		return fmt.Errorf("failed to upsert articles: %w", err)
	}
	return nil
}

// SnapshotStore implements store.SnapshotRepository.
type SnapshotStore struct {
	db querier
}

// NewSnapshotStore wraps a pool.
func NewSnapshotStore(db querier) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// GetSnapshot loads the latest results for source.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, source string) (crawler.Snapshot, error) {
	query := `
		SELECT results, updated_at
		FROM crawl_results
		WHERE source = $1;
	`
	var raw []byte
	snap := crawler.Snapshot{Source: source}
	if err := s.db.QueryRow(ctx, query, source).Scan(&raw, &snap.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Snapshot{}, store.ErrNotFound
		}
		return crawler.Snapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap.Results); err != nil {
		return crawler.Snapshot{}, fmt.Errorf("decode results: %w", err)
	}
	return snap, nil
}

// UpsertSnapshot replaces the stored results for the snapshot's source.
func (s *SnapshotStore) UpsertSnapshot(ctx context.Context, snapshot crawler.Snapshot) error {
	results := snapshot.Results
	if results == nil {
		results = []crawler.Result{}
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	query := `
		INSERT INTO crawl_results (source, results, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE
		SET results = EXCLUDED.results, updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.db.Exec(ctx, query, snapshot.Source, raw, snapshot.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

var (
	_ store.SitemapRepository  = (*SitemapStore)(nil)
	_ store.ArticleRepository  = (*ArticleStore)(nil)
	_ store.SnapshotRepository = (*SnapshotStore)(nil)
)
