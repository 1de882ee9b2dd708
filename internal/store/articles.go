package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ArticleStatusPublished is the only status written for articles.
const ArticleStatusPublished = "published"

// MaxSlugLength caps slugs including any collision suffix.
const MaxSlugLength = 80

const maxSlugAttempts = 100

var (
	// ErrArticleNotFound reports a missing slug.
	ErrArticleNotFound = errors.New("article not found")
	// ErrEmptySlug rejects articles without a base slug.
	ErrEmptySlug = errors.New("article slug required")
)

// Article is a published blog post.
type Article struct {
	ID              int64
	TopicID         int64
	Slug            string
	Title           string
	MetaDescription string
	ContentMD       string
	ContentHTML     string
	Tags            []string
	CoverImage      string
	CTAURL          string
	Status          string
	PublishedAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Views           int64
	TelegramSent    bool
}

// HasCover reports whether the article carries a cover image reference.
func (a Article) HasCover() bool {
	return strings.TrimSpace(a.CoverImage) != ""
}

// InsertPublished stores the article as published and returns the slug it
// was stored under. A slug already taken by another article gets the first
// free numeric suffix (-2, -3, ...). When TopicID is set, the topic moves
// from writing to used inside the same transaction, so a failed insert never
// consumes the topic. The ctaURL callback receives the final slug.
func (s *Store) InsertPublished(ctx context.Context, article Article, ctaURL func(slug string) string) (string, error) {
	base := strings.Trim(strings.TrimSpace(article.Slug), "-")
	if base == "" {
		return "", ErrEmptySlug
	}
	if strings.TrimSpace(article.Title) == "" {
		return "", errors.New("insert article: title required")
	}
	published := article.PublishedAt
	if published.IsZero() {
		published = s.now()
	}

	var slug string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if article.TopicID != 0 {
			if err := transitionTx(ctx, tx, article.TopicID, StatusWriting, StatusUsed, published); err != nil {
				return err
			}
		}
		for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
			candidate := SlugWithSuffix(base, attempt)
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles WHERE slug = ?`, candidate).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				continue
			}
			cta := article.CTAURL
			if ctaURL != nil {
				cta = ctaURL(candidate)
			}
			stamp := formatTime(published)
			_, err := tx.ExecContext(ctx,
				`INSERT INTO articles (topic_id, slug, title, meta_description, content_md, content_html, tags_json, cover_image, cta_url, status, published_at, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				nullableTopicID(article.TopicID),
				candidate,
				strings.TrimSpace(article.Title),
				article.MetaDescription,
				article.ContentMD,
				article.ContentHTML,
				encodeStrings(article.Tags),
				nullableString(strings.TrimSpace(article.CoverImage)),
				cta,
				ArticleStatusPublished,
				stamp,
				stamp,
				stamp,
			)
			if isUniqueViolation(err) {
				continue
			}
			if err != nil {
				return err
			}
			slug = candidate
			return nil
		}
		return fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugAttempts)
	})
	if err != nil {
		return "", fmt.Errorf("insert article: %w", err)
	}
	return slug, nil
}

// SlugWithSuffix returns base for n <= 1, otherwise base-n, trimming base so
// the result stays within MaxSlugLength.
func SlugWithSuffix(base string, n int) string {
	suffix := ""
	if n > 1 {
		suffix = "-" + strconv.Itoa(n)
	}
	limit := MaxSlugLength - len(suffix)
	if len(base) > limit {
		base = strings.TrimRight(base[:limit], "-")
	}
	return base + suffix
}

func nullableTopicID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// GetArticle returns the article stored under slug, or ErrArticleNotFound.
func (s *Store) GetArticle(ctx context.Context, slug string) (*Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE slug = ?`, slug)
	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrArticleNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", slug, err)
	}
	return article, nil
}

// ListPublished returns published articles, newest first. A non-positive
// limit returns all of them.
func (s *Store) ListPublished(ctx context.Context, limit int) ([]Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE status = ? ORDER BY published_at DESC, id DESC`
	args := []any{ArticleStatusPublished}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("list articles: %w", err)
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

// MarkAnnounced records that the announcement for slug was delivered.
func (s *Store) MarkAnnounced(ctx context.Context, slug string) error {
	return s.updateArticle(ctx, slug, `UPDATE articles SET telegram_sent = 1, updated_at = ? WHERE slug = ?`, formatTime(s.now()), slug)
}

// IncrementViews bumps the view counter for slug.
func (s *Store) IncrementViews(ctx context.Context, slug string) error {
	return s.updateArticle(ctx, slug, `UPDATE articles SET views = views + 1 WHERE slug = ?`, slug)
}

// UpdateContent replaces the markup and rendered body of an article. Used by
// operator repair only; the pipeline never rewrites a published article.
func (s *Store) UpdateContent(ctx context.Context, slug, markdown, html string) error {
	return s.updateArticle(ctx, slug,
		`UPDATE articles SET content_md = ?, content_html = ?, updated_at = ? WHERE slug = ?`,
		markdown, html, formatTime(s.now()), slug)
}

func (s *Store) updateArticle(ctx context.Context, slug, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update article %s: %w", slug, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update article %s: %w", slug, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrArticleNotFound, slug)
	}
	return nil
}

// ArticleCount returns the number of stored articles.
func (s *Store) ArticleCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return count, nil
}
