// Package writer drafts an article for a claimed topic from its research
// sources. It is the only stage that introduces image placeholders.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"quill/internal/draft"
	"quill/internal/logging"
	"quill/internal/prompts"
	"quill/internal/research"
	"quill/internal/services"
	"quill/internal/services/llm"
	"quill/internal/store"
	"quill/internal/textutil"
)

// Draft is the first version of an article body.
type Draft struct {
	Title        string
	Body         string
	Placeholders int
	Words        int
}

// Writer turns a topic and its sources into a draft.
type Writer struct {
	generator llm.Generator
	profile   llm.Profile
	prompts   *prompts.Catalog
	ctaURL    string
	logger    *slog.Logger
}

// New constructs a Writer. ctaURL is the call-to-action link the draft ends with.
func New(generator llm.Generator, profile llm.Profile, catalog *prompts.Catalog, ctaURL string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{
		generator: generator,
		profile:   profile,
		prompts:   catalog,
		ctaURL:    ctaURL,
		logger:    logger,
	}
}

type promptData struct {
	Title    string
	Angle    string
	Keywords []string
	Sources  []research.Source
	CTAURL   string
}

// Write drafts the article. Generation failures and empty output are errors.
func (w *Writer) Write(ctx context.Context, topic store.Topic, sources []research.Source) (Draft, error) {
	prompt, err := w.prompts.Render(prompts.WriteArticle, promptData{
		Title:    topic.Title,
		Angle:    topic.Angle,
		Keywords: topic.Keywords,
		Sources:  sources,
		CTAURL:   w.ctaURL,
	})
	if err != nil {
		return Draft{}, err
	}

	raw, err := w.generator.Generate(ctx, prompt, w.profile)
	if err != nil {
		return Draft{}, fmt.Errorf("generate draft: %w", err)
	}
	body := dropLeadingTitle(textutil.StripCodeFence(raw))
	if strings.TrimSpace(body) == "" {
		return Draft{}, services.Wrap(services.ErrMalformedOutput, "drafting", "generate draft", "model returned an empty article", nil)
	}

	d := Draft{
		Title:        topic.Title,
		Body:         body,
		Placeholders: len(draft.Find(body)),
		Words:        draft.WordCount(body),
	}
	logging.WithContext(ctx, w.logger).Info("draft written",
		logging.String(logging.FieldEventType, "draft_written"),
		logging.Int("words", d.Words),
		logging.Int("placeholders", d.Placeholders),
		logging.Int("sources", len(sources)),
	)
	return d, nil
}

// dropLeadingTitle removes a level-one heading on the first line. The title is
// stored and rendered separately.
func dropLeadingTitle(body string) string {
	if !strings.HasPrefix(body, "# ") {
		return body
	}
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		return strings.TrimSpace(body[nl+1:])
	}
	return ""
}
