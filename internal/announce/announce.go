// Package announce tells an external channel about a freshly published
// article. It never affects the publish itself.
package announce

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"quill/internal/feed"
	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/prompts"
	"quill/internal/services/llm"
	"quill/internal/store"
	"quill/internal/textutil"
)

// DefaultLinkText labels the article link.
const DefaultLinkText = "Читать статью"

// Channel delivers one message.
type Channel interface {
	Send(ctx context.Context, text string) error
}

// Articles is the article access the announcer needs.
type Articles interface {
	GetArticle(ctx context.Context, slug string) (*store.Article, error)
	MarkAnnounced(ctx context.Context, slug string) error
}

// Config shapes the announcement.
type Config struct {
	BlogURL  string
	LinkText string
}

// Announcer builds and sends announcements.
type Announcer struct {
	cfg       Config
	articles  Articles
	channel   Channel
	generator llm.Generator
	profile   llm.Profile
	prompts   *prompts.Catalog
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option customizes an Announcer.
type Option func(*Announcer)

// WithLogger sets the announcer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Announcer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records announcement results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Announcer) {
		a.metrics = m
	}
}

// New constructs an Announcer. A nil channel disables delivery.
func New(cfg Config, articles Articles, channel Channel, generator llm.Generator, profile llm.Profile, catalog *prompts.Catalog, opts ...Option) *Announcer {
	if strings.TrimSpace(cfg.LinkText) == "" {
		cfg.LinkText = DefaultLinkText
	}
	a := &Announcer{
		cfg:       cfg,
		articles:  articles,
		channel:   channel,
		generator: generator,
		profile:   profile,
		prompts:   catalog,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether a channel is configured.
func (a *Announcer) Enabled() bool {
	return a != nil && a.channel != nil
}

type hookData struct {
	Title   string
	Summary string
}

// Announce sends the announcement for slug and flags the article as sent. A
// failed hook generation falls back to the meta description.
func (a *Announcer) Announce(ctx context.Context, slug string) error {
	logger := logging.WithContext(ctx, a.logger)
	if !a.Enabled() {
		a.metrics.ObserveAnnouncement("skipped")
		logger.Info("announcement skipped", logging.String(logging.FieldEventType, "announce_skipped"), logging.String("slug", slug))
		return nil
	}

	article, err := a.articles.GetArticle(ctx, slug)
	if err != nil {
		a.metrics.ObserveAnnouncement("failed")
		return fmt.Errorf("load article: %w", err)
	}

	hook, err := a.hook(ctx, article)
	if err != nil {
		logging.WarnWithContext(logger, "announcement hook generation failed", "announce_hook_fallback",
			logging.String(logging.FieldErrorHint, "check the text generation provider"),
			logging.String(logging.FieldImpact, "announcement uses the meta description"),
			logging.Error(err),
		)
		hook = article.MetaDescription
	}

	message := FormatMessage(article.Title, hook, feed.ArticleURL(a.cfg.BlogURL, article.Slug), a.cfg.LinkText)
	if err := a.channel.Send(ctx, message); err != nil {
		a.metrics.ObserveAnnouncement("failed")
		return fmt.Errorf("send announcement: %w", err)
	}
	a.metrics.ObserveAnnouncement("sent")

	if err := a.articles.MarkAnnounced(ctx, article.Slug); err != nil {
		logging.WarnWithContext(logger, "failed to flag article as announced", "announce_flag_failed",
			logging.String(logging.FieldErrorHint, "check database health"),
			logging.String(logging.FieldImpact, "article may be announced again by an operator"),
			logging.Error(err),
		)
	}
	logger.Info("article announced",
		logging.String(logging.FieldEventType, "article_announced"),
		logging.String("slug", article.Slug),
	)
	return nil
}

func (a *Announcer) hook(ctx context.Context, article *store.Article) (string, error) {
	prompt, err := a.prompts.Render(prompts.AnnounceHook, hookData{Title: article.Title, Summary: article.MetaDescription})
	if err != nil {
		return "", err
	}
	raw, err := a.generator.Generate(ctx, prompt, a.profile)
	if err != nil {
		return "", err
	}
	hook := strings.TrimSpace(textutil.StripWrappingQuotes(raw))
	if hook == "" {
		return "", fmt.Errorf("empty hook")
	}
	return hook, nil
}

// FormatMessage renders the HTML announcement. Title and hook are escaped.
func FormatMessage(title, hook, articleURL, linkText string) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>\n\n")
	if hook = strings.TrimSpace(hook); hook != "" {
		b.WriteString(html.EscapeString(hook))
		b.WriteString("\n\n")
	}
	b.WriteString(`<a href="`)
	b.WriteString(html.EscapeString(articleURL))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(linkText))
	b.WriteString("</a>")
	return b.String()
}
