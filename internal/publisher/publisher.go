// Package publisher finalizes an article (title, slug, meta description,
// rendered HTML) and commits it, consuming the topic in the same step.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"quill/internal/draft"
	"quill/internal/logging"
	"quill/internal/markup"
	"quill/internal/prompts"
	"quill/internal/services/llm"
	"quill/internal/store"
	"quill/internal/textutil"
)

const (
	// DefaultMaxTitleLength is the display limit for titles, in runes.
	DefaultMaxTitleLength = 55
	// DefaultMetaMaxLength is the hard cap for meta descriptions, in runes.
	DefaultMetaMaxLength = 160
	// TruncationMarker ends a hard-truncated title.
	TruncationMarker = "..."

	metaExcerptRunes = 3000
)

// Store persists published articles.
type Store interface {
	InsertPublished(ctx context.Context, article store.Article, ctaURL func(slug string) string) (string, error)
}

// Config shapes published articles.
type Config struct {
	MaxTitleLength int
	MetaMaxLength  int
	CTABaseURL     string
}

// Publisher commits finished articles.
type Publisher struct {
	cfg       Config
	generator llm.Generator
	profile   llm.Profile
	prompts   *prompts.Catalog
	renderer  *markup.Renderer
	store     Store
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithClock overrides the publish timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New constructs a Publisher. The generator is used for title shortening and
// meta descriptions.
func New(cfg Config, generator llm.Generator, profile llm.Profile, catalog *prompts.Catalog, st Store, opts ...Option) *Publisher {
	if cfg.MaxTitleLength <= 0 {
		cfg.MaxTitleLength = DefaultMaxTitleLength
	}
	if cfg.MetaMaxLength <= 0 {
		cfg.MetaMaxLength = DefaultMetaMaxLength
	}
	p := &Publisher{
		cfg:       cfg,
		generator: generator,
		profile:   profile,
		prompts:   catalog,
		renderer:  markup.NewRenderer(),
		store:     st,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request is the finished draft to publish.
type Request struct {
	TopicID int64
	Title   string
	Body    string
	Tags    []string
	Cover   string
}

// TitleOutcome records how the title was made to fit.
type TitleOutcome string

const (
	TitleKept      TitleOutcome = "kept"
	TitleShortened TitleOutcome = "shortened"
	TitleTruncated TitleOutcome = "truncated"
)

// Published describes the committed article.
type Published struct {
	Slug            string
	Title           string
	MetaDescription string
	CTAURL          string
	PublishedAt     time.Time
	Headings        int
	TitleOutcome    TitleOutcome
	MetaFallback    bool
}

// Publish finalizes and stores the article. Only the store write can fail the
// call; when it does the topic is left untouched.
func (p *Publisher) Publish(ctx context.Context, req Request) (Published, error) {
	logger := logging.WithContext(ctx, p.logger)

	title, outcome := p.FitTitle(ctx, req.Title)
	slug := textutil.Slugify(title)
	if slug == "" {
		slug = fmt.Sprintf("post-%d", req.TopicID)
	}

	if draft.HasPlaceholders(req.Body) {
		logging.WarnWithContext(logger, "raw placeholders reached publishing", "placeholders_stripped",
			logging.String(logging.FieldErrorHint, "image resolution did not consume every placeholder"),
			logging.String(logging.FieldImpact, "placeholders removed without images"),
		)
		req.Body = draft.StripPlaceholders(req.Body)
	}
	doc := p.renderer.Render(req.Body)

	meta, fallback := p.MetaDescription(ctx, title, req.Body)

	publishedAt := p.now().UTC()
	article := store.Article{
		TopicID:         req.TopicID,
		Slug:            slug,
		Title:           title,
		MetaDescription: meta,
		ContentMD:       req.Body,
		ContentHTML:     doc.HTML,
		Tags:            req.Tags,
		CoverImage:      req.Cover,
		PublishedAt:     publishedAt,
	}
	finalSlug, err := p.store.InsertPublished(ctx, article, p.CTAURL)
	if err != nil {
		return Published{}, fmt.Errorf("store article: %w", err)
	}

	result := Published{
		Slug:            finalSlug,
		Title:           title,
		MetaDescription: meta,
		CTAURL:          p.CTAURL(finalSlug),
		PublishedAt:     publishedAt,
		Headings:        len(doc.Headings),
		TitleOutcome:    outcome,
		MetaFallback:    fallback,
	}
	logger.Info("article published",
		logging.String(logging.FieldEventType, "article_published"),
		logging.String("slug", result.Slug),
		logging.String("title", result.Title),
		logging.String("title_outcome", string(outcome)),
		logging.Bool("cover", req.Cover != ""),
		logging.Int("headings", result.Headings),
	)
	return result, nil
}

type shortenData struct {
	Title string
	Limit int
}

// FitTitle returns a title within MaxTitleLength. Long titles are shortened by
// the model; a result that still does not fit, or a failed call, falls back to
// hard truncation ending in TruncationMarker.
func (p *Publisher) FitTitle(ctx context.Context, title string) (string, TitleOutcome) {
	title = textutil.CollapseWhitespace(title)
	limit := p.cfg.MaxTitleLength
	if textutil.RuneLen(title) <= limit {
		return title, TitleKept
	}
	logger := logging.WithContext(ctx, p.logger)

	shortened, err := p.shorten(ctx, title, limit)
	if err != nil {
		logging.WarnWithContext(logger, "title shortening failed", "title_truncated",
			logging.String(logging.FieldErrorHint, "check the text generation provider"),
			logging.String(logging.FieldImpact, "title hard-truncated"),
			logging.Error(err),
		)
		return textutil.TruncateWithMarker(title, limit, TruncationMarker), TitleTruncated
	}
	if textutil.RuneLen(shortened) <= limit {
		return shortened, TitleShortened
	}
	logging.WarnWithContext(logger, "shortened title still too long", "title_truncated",
		logging.String(logging.FieldErrorHint, "the model ignored the length limit"),
		logging.String(logging.FieldImpact, "title hard-truncated"),
		logging.Int("length", textutil.RuneLen(shortened)),
	)
	return textutil.TruncateWithMarker(shortened, limit, TruncationMarker), TitleTruncated
}

func (p *Publisher) shorten(ctx context.Context, title string, limit int) (string, error) {
	prompt, err := p.prompts.Render(prompts.ShortenTitle, shortenData{Title: title, Limit: limit})
	if err != nil {
		return "", err
	}
	raw, err := p.generator.Generate(ctx, prompt, p.profile)
	if err != nil {
		return "", err
	}
	shortened := textutil.CollapseWhitespace(textutil.StripWrappingQuotes(raw))
	if shortened == "" {
		return "", fmt.Errorf("empty shortened title")
	}
	return shortened, nil
}

type metaData struct {
	Title   string
	Excerpt string
}

// MetaDescription generates the SEO description, capped at MetaMaxLength. When
// generation fails or returns nothing, the first paragraph of the body is used
// and the second result is true.
func (p *Publisher) MetaDescription(ctx context.Context, title, body string) (string, bool) {
	excerpt := textutil.TruncateRunes(draft.StripPlaceholders(body), metaExcerptRunes)
	meta, err := p.describe(ctx, title, excerpt)
	if err == nil && meta != "" {
		return textutil.TruncateRunes(meta, p.cfg.MetaMaxLength), false
	}
	logger := logging.WithContext(ctx, p.logger)
	attrs := []logging.Attr{
		logging.String(logging.FieldErrorHint, "check the text generation provider"),
		logging.String(logging.FieldImpact, "meta description taken from the first paragraph"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WarnWithContext(logger, "meta description generation failed", "meta_fallback", attrs...)
	return textutil.TruncateRunes(textutil.FirstParagraph(body), p.cfg.MetaMaxLength), true
}

func (p *Publisher) describe(ctx context.Context, title, excerpt string) (string, error) {
	prompt, err := p.prompts.Render(prompts.MetaDescription, metaData{Title: title, Excerpt: excerpt})
	if err != nil {
		return "", err
	}
	raw, err := p.generator.Generate(ctx, prompt, p.profile)
	if err != nil {
		return "", err
	}
	return textutil.CollapseWhitespace(textutil.StripQuotes(raw)), nil
}

// CTAURL is the call-to-action link for an article slug.
func (p *Publisher) CTAURL(slug string) string {
	return CTAURL(p.cfg.CTABaseURL, slug)
}

// CTAURL appends the blog campaign parameters for slug to base.
func CTAURL(base, slug string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "utm_source=blog&utm_medium=article&utm_campaign=" + url.QueryEscape(slug)
}
