// Package audit finds published articles whose stored content is broken and
// repairs them. Breakage comes from model output that slipped past drafting:
// a body wrapped in a code fence renders as one big code block, and raw image
// placeholders render as broken images.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"quill/internal/draft"
	"quill/internal/logging"
	"quill/internal/markup"
	"quill/internal/store"
	"quill/internal/textutil"
)

// Issue names one kind of breakage.
type Issue string

const (
	IssueFencedMarkdown Issue = "fenced_markdown"
	IssueWrappedHTML    Issue = "wrapped_html"
	IssueRawPlaceholder Issue = "raw_placeholder"
)

// wrappedShare is the share of the document text inside a leading pre block
// at which the block counts as wrapping the whole article.
const wrappedShare = 0.8

// Finding is the audit result for one article.
type Finding struct {
	Slug   string
	Title  string
	Issues []Issue
}

// Broken reports whether any issue was found.
func (f Finding) Broken() bool {
	return len(f.Issues) > 0
}

// Has reports whether the finding carries issue.
func (f Finding) Has(issue Issue) bool {
	for _, i := range f.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

// Check inspects one article.
func Check(article store.Article) Finding {
	finding := Finding{Slug: article.Slug, Title: article.Title}
	if strings.HasPrefix(strings.TrimSpace(article.ContentMD), "```") {
		finding.Issues = append(finding.Issues, IssueFencedMarkdown)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.ContentHTML))
	if err != nil {
		// Unparseable HTML only happens with a corrupt row; re-rendering fixes it.
		finding.Issues = append(finding.Issues, IssueWrappedHTML)
		return finding
	}
	if wrapsDocument(doc) {
		finding.Issues = append(finding.Issues, IssueWrappedHTML)
	}
	if draft.HasPlaceholders(article.ContentMD) || doc.Find(`img[src="placeholder"]`).Length() > 0 {
		finding.Issues = append(finding.Issues, IssueRawPlaceholder)
	}
	return finding
}

// wrapsDocument reports whether the first block of the body is a pre > code
// holding nearly all of the document text.
func wrapsDocument(doc *goquery.Document) bool {
	first := doc.Find("body").Children().First()
	if !first.Is("pre") || first.ChildrenFiltered("code").Length() == 0 {
		return false
	}
	total := textutil.RuneLen(strings.TrimSpace(doc.Find("body").Text()))
	if total == 0 {
		return false
	}
	inside := textutil.RuneLen(strings.TrimSpace(first.Text()))
	return float64(inside) >= wrappedShare*float64(total)
}

// RepairMarkdown unwraps a fenced body and removes raw placeholders.
func RepairMarkdown(markdown string) string {
	return draft.StripPlaceholders(textutil.StripCodeFence(markdown))
}

// Store is the article access the auditor needs.
type Store interface {
	ListPublished(ctx context.Context, limit int) ([]store.Article, error)
	GetArticle(ctx context.Context, slug string) (*store.Article, error)
	UpdateContent(ctx context.Context, slug, markdown, html string) error
}

// Auditor scans and repairs stored articles.
type Auditor struct {
	store    Store
	renderer *markup.Renderer
	logger   *slog.Logger
}

// New constructs an Auditor.
func New(st Store, renderer *markup.Renderer, logger *slog.Logger) *Auditor {
	if renderer == nil {
		renderer = markup.NewRenderer()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Auditor{store: st, renderer: renderer, logger: logger}
}

// Scan checks every published article, newest first.
func (a *Auditor) Scan(ctx context.Context) ([]Finding, error) {
	articles, err := a.store.ListPublished(ctx, 0)
	if err != nil {
		return nil, err
	}
	findings := make([]Finding, 0, len(articles))
	for _, article := range articles {
		findings = append(findings, Check(article))
	}
	return findings, nil
}

// Repair is the outcome of repairing one article.
type Repair struct {
	Finding Finding
	Fixed   bool
	Err     error
}

// RepairAll repairs every broken article. With dryRun nothing is written.
// A failed update is reported on its entry and does not stop the rest.
func (a *Auditor) RepairAll(ctx context.Context, dryRun bool) ([]Repair, error) {
	articles, err := a.store.ListPublished(ctx, 0)
	if err != nil {
		return nil, err
	}
	var repairs []Repair
	for _, article := range articles {
		finding := Check(article)
		if !finding.Broken() {
			continue
		}
		repair := Repair{Finding: finding}
		if !dryRun {
			repair.Err = a.rewrite(ctx, article)
			repair.Fixed = repair.Err == nil
		}
		repairs = append(repairs, repair)
	}
	return repairs, nil
}

// RepairOne repairs a single article regardless of its findings.
func (a *Auditor) RepairOne(ctx context.Context, slug string) (Finding, error) {
	article, err := a.store.GetArticle(ctx, slug)
	if err != nil {
		return Finding{}, err
	}
	finding := Check(*article)
	return finding, a.rewrite(ctx, *article)
}

func (a *Auditor) rewrite(ctx context.Context, article store.Article) error {
	markdown := RepairMarkdown(article.ContentMD)
	doc := a.renderer.Render(markdown)
	if err := a.store.UpdateContent(ctx, article.Slug, markdown, doc.HTML); err != nil {
		logging.WarnWithContext(a.logger, "article repair failed", "article_repair_failed",
			logging.String(logging.FieldErrorHint, "check the database is writable"),
			logging.String(logging.FieldImpact, "article keeps its broken content"),
			logging.String("slug", article.Slug),
			logging.Error(err),
		)
		return fmt.Errorf("repair %s: %w", article.Slug, err)
	}
	a.logger.Info("article repaired",
		logging.String(logging.FieldEventType, "article_repaired"),
		logging.String("slug", article.Slug),
		logging.Int("headings", len(doc.Headings)),
	)
	return nil
}
