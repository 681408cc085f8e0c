package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/news-comb/app/feed"
)

// ArticleRepository is the default persistence collaborator for processed articles.
type ArticleRepository struct {
	db *DB
}

func NewArticleRepository(db *DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

func (r *ArticleRepository) Store(ctx context.Context, article feed.ProcessedArticle) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO articles (
			url, source_title, source_name, title, slug, summary, content,
			category, image_url, published_at, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			slug = excluded.slug,
			summary = excluded.summary,
			content = excluded.content,
			category = excluded.category,
			image_url = excluded.image_url,
			processed_at = excluded.processed_at
	`, article.Source.Link, article.Source.Title, article.Source.SourceName,
		article.Title, article.Slug, article.Summary, article.Content,
		article.Category, article.Source.ImageURL,
		article.Source.PublishedAt.Unix(), article.ProcessedAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store article: %w", err)
	}

	return nil
}

func (r *ArticleRepository) Exists(ctx context.Context, url string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE url = ?`, url).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check article existence: %w", err)
	}
	return count > 0, nil
}

func (r *ArticleRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get article count: %w", err)
	}
	return count, nil
}

// CountByCategory returns stored article totals keyed by category.
func (r *ArticleRepository) CountByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM articles GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to get category counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		counts[category] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}

	return counts, nil
}

// Recent returns up to limit stored articles, newest publication first.
// An empty category matches all articles.
func (r *ArticleRepository) Recent(ctx context.Context, category string, limit int) ([]feed.ProcessedArticle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT url, source_title, source_name, title, slug, summary, content,
		       category, image_url, published_at, processed_at
		FROM articles
		WHERE ? = '' OR category = ?
		ORDER BY published_at DESC, id DESC
		LIMIT ?
	`, category, category, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent articles: %w", err)
	}
	defer rows.Close()

	var articles []feed.ProcessedArticle
	for rows.Next() {
		var a feed.ProcessedArticle
		var publishedAt, processedAt int64
		if err := rows.Scan(&a.Source.Link, &a.Source.Title, &a.Source.SourceName,
			&a.Title, &a.Slug, &a.Summary, &a.Content,
			&a.Category, &a.Source.ImageURL, &publishedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		a.Source.PublishedAt = time.Unix(publishedAt, 0).UTC()
		a.ProcessedAt = time.Unix(processedAt, 0).UTC()
		articles = append(articles, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article rows: %w", err)
	}

	return articles, nil
}
