// Package editor runs the ordered rewriting passes over a draft and restores
// any image placeholders the passes lost.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quill/internal/draft"
	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/prompts"
	"quill/internal/services"
	"quill/internal/services/llm"
	"quill/internal/textutil"
)

// Pass is one editorial rewriting step.
type Pass struct {
	Kind   string
	Prompt string
}

// DefaultPasses is the fixed editing order.
var DefaultPasses = []Pass{
	{Kind: "structure", Prompt: prompts.EditStructure},
	{Kind: "coherence", Prompt: prompts.EditCoherence},
	{Kind: "style", Prompt: prompts.EditStyle},
	{Kind: "factcheck", Prompt: prompts.EditFactCheck},
}

// Chain applies passes in order.
type Chain struct {
	generator llm.Generator
	profile   llm.Profile
	prompts   *prompts.Catalog
	passes    []Pass
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option customizes a Chain.
type Option func(*Chain)

// WithPasses replaces the default pass list.
func WithPasses(passes ...Pass) Option {
	return func(c *Chain) {
		c.passes = passes
	}
}

// WithLogger sets the chain logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records placeholder preservation counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Chain) {
		c.metrics = m
	}
}

// New constructs a Chain running DefaultPasses.
func New(generator llm.Generator, profile llm.Profile, catalog *prompts.Catalog, opts ...Option) *Chain {
	c := &Chain{
		generator: generator,
		profile:   profile,
		prompts:   catalog,
		passes:    DefaultPasses,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PassReport describes one completed pass.
type PassReport struct {
	Kind         string
	Words        int
	Placeholders int
	Duration     time.Duration
}

// Result is the edited body plus what happened on the way.
type Result struct {
	Body         string
	Passes       []PassReport
	Preservation draft.PreserveResult
}

type passData struct {
	Body string
}

// Edit runs every pass on body. The first failing pass aborts the chain.
// Placeholders present before the first pass that are missing after the last
// one are reinserted at section boundaries.
func (c *Chain) Edit(ctx context.Context, body string) (Result, error) {
	logger := logging.WithContext(ctx, c.logger)
	before := draft.Tokens(body)

	result := Result{Passes: make([]PassReport, 0, len(c.passes))}
	current := body
	for _, pass := range c.passes {
		started := time.Now()
		next, err := c.run(ctx, pass, current)
		if err != nil {
			return result, err
		}
		current = next
		report := PassReport{
			Kind:         pass.Kind,
			Words:        draft.WordCount(current),
			Placeholders: len(draft.Tokens(current)),
			Duration:     time.Since(started),
		}
		result.Passes = append(result.Passes, report)
		logger.Debug("edit pass complete",
			logging.String("pass", report.Kind),
			logging.Int("words", report.Words),
			logging.Int("placeholders", report.Placeholders),
			logging.Duration("duration", report.Duration),
		)
	}

	preserved := draft.Preserve(before, current)
	result.Body = preserved.Body
	result.Preservation = preserved
	c.metrics.ObservePlaceholders(preserved.Lost, preserved.Reinserted)

	if preserved.Lost > 0 {
		attrs := []logging.Attr{
			logging.Int("expected", preserved.Expected),
			logging.Int("lost", preserved.Lost),
			logging.Int("reinserted", preserved.Reinserted),
		}
		if preserved.Dropped() > 0 {
			logging.WarnWithContext(logger, "placeholders dropped by editing", "placeholders_dropped",
				append(attrs,
					logging.String(logging.FieldErrorHint, "the draft has fewer sections than lost placeholders"),
					logging.String(logging.FieldImpact, "fewer images in the published article"),
				)...,
			)
		} else {
			attrs = append(attrs, logging.String(logging.FieldEventType, "placeholders_restored"))
			logger.Info("placeholders restored", logging.Args(attrs...)...)
		}
	}
	return result, nil
}

func (c *Chain) run(ctx context.Context, pass Pass, body string) (string, error) {
	prompt, err := c.prompts.Render(pass.Prompt, passData{Body: body})
	if err != nil {
		return "", err
	}
	raw, err := c.generator.Generate(ctx, prompt, c.profile)
	if err != nil {
		return "", fmt.Errorf("edit pass %s: %w", pass.Kind, err)
	}
	edited := textutil.StripCodeFence(raw)
	if strings.TrimSpace(edited) == "" {
		return "", services.Wrap(services.ErrMalformedOutput, "editing", "edit pass "+pass.Kind, "model returned an empty article", nil)
	}
	return edited, nil
}
