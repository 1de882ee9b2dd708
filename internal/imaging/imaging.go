// Package imaging resolves the image placeholders of an edited draft into
// uploaded illustrations. A failed item only costs that image.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quill/internal/draft"
	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/objectstore"
	"quill/internal/prompts"
	"quill/internal/services/imagegen"
)

// DefaultMaxImages caps the placeholders resolved per article.
const DefaultMaxImages = 3

// Config controls a resolver.
type Config struct {
	MaxImages int
	// Delay separates consecutive generation calls. It is not applied after
	// the last item.
	Delay time.Duration
}

// Item is the outcome of one processed placeholder.
type Item struct {
	Ordinal     int
	Description string
	Path        string
	URL         string
	Err         error
}

// OK reports whether the item produced an image reference.
func (i Item) OK() bool {
	return i.Err == nil && i.URL != ""
}

// Outcome aggregates a resolve run.
type Outcome struct {
	Body   string
	Cover  string
	Items  []Item
	Capped int
}

// Resolved counts items that became image references.
func (o Outcome) Resolved() int {
	n := 0
	for _, item := range o.Items {
		if item.OK() {
			n++
		}
	}
	return n
}

// Failed counts processed items that were dropped.
func (o Outcome) Failed() int {
	return len(o.Items) - o.Resolved()
}

// Resolver turns placeholders into uploaded images.
type Resolver struct {
	images   imagegen.Generator
	uploader objectstore.Uploader
	prompts  *prompts.Catalog
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records per-item results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithSleeper overrides how the inter-item delay is waited out.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Resolver) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// New constructs a Resolver. A nil generator disables image generation and
// every placeholder is removed.
func New(images imagegen.Generator, uploader objectstore.Uploader, catalog *prompts.Catalog, cfg Config, opts ...Option) *Resolver {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	r := &Resolver{
		images:   images,
		uploader: uploader,
		prompts:  catalog,
		cfg:      cfg,
		logger:   logging.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve processes the placeholders of body in document order. At most
// MaxImages are attempted; the rest are removed. Each attempted placeholder is
// replaced by its image reference, or removed when generation or upload fails.
// The first resolved image is the cover. Only context cancellation is
// returned as an error.
func (r *Resolver) Resolve(ctx context.Context, body, articleKey string) (Outcome, error) {
	logger := logging.WithContext(ctx, r.logger)
	found := draft.Find(body)

	outcome := Outcome{}
	if len(found) == 0 {
		outcome.Body = body
		return outcome, nil
	}
	if r.images == nil || r.uploader == nil {
		logging.WarnWithContext(logger, "image generation disabled", "images_disabled",
			logging.String(logging.FieldErrorHint, "set images.api_key and a storage backend"),
			logging.String(logging.FieldImpact, "article published without images"),
			logging.Int("placeholders", len(found)),
		)
		outcome.Body = draft.StripPlaceholders(body)
		outcome.Capped = len(found)
		r.metrics.ObserveImages(0, 0, outcome.Capped)
		return outcome, nil
	}

	process := found
	if len(process) > r.cfg.MaxImages {
		outcome.Capped = len(process) - r.cfg.MaxImages
		process = process[:r.cfg.MaxImages]
	}

	replacements := make(map[int]string, len(process))
	for i, placeholder := range process {
		if i > 0 && r.cfg.Delay > 0 {
			if err := r.sleep(ctx, r.cfg.Delay); err != nil {
				return outcome, err
			}
		}
		item := r.resolveOne(ctx, placeholder, articleKey, i+1)
		if errors.Is(item.Err, context.Canceled) || errors.Is(item.Err, context.DeadlineExceeded) {
			return outcome, item.Err
		}
		outcome.Items = append(outcome.Items, item)
		if !item.OK() {
			logging.WarnWithContext(logger, "image item failed", "image_item_failed",
				logging.String(logging.FieldErrorHint, "check the image API key, quota and storage credentials"),
				logging.String(logging.FieldImpact, "placeholder removed from the article"),
				logging.Int("ordinal", item.Ordinal),
				logging.String("description", item.Description),
				logging.Error(item.Err),
			)
			continue
		}
		replacements[i] = Reference(item.Description, item.URL)
		if outcome.Cover == "" {
			outcome.Cover = item.URL
		}
		logger.Info("image resolved",
			logging.String(logging.FieldEventType, "image_resolved"),
			logging.Int("ordinal", item.Ordinal),
			logging.String("url", item.URL),
		)
	}

	outcome.Body = draft.Substitute(body, replacements)
	r.metrics.ObserveImages(outcome.Resolved(), outcome.Failed(), outcome.Capped)
	logger.Info("images resolved",
		logging.String(logging.FieldEventType, "images_summary"),
		logging.Int("resolved", outcome.Resolved()),
		logging.Int("failed", outcome.Failed()),
		logging.Int("capped", outcome.Capped),
		logging.Bool("cover", outcome.Cover != ""),
	)
	return outcome, nil
}

func (r *Resolver) resolveOne(ctx context.Context, placeholder draft.Placeholder, articleKey string, ordinal int) Item {
	item := Item{
		Ordinal:     ordinal,
		Description: placeholder.Description,
	}
	prompt, err := r.prompts.Render(prompts.Image, struct{ Description string }{placeholder.Description})
	if err != nil {
		item.Err = err
		return item
	}
	image, err := r.images.GenerateImage(ctx, prompt)
	if err != nil {
		item.Err = fmt.Errorf("generate: %w", err)
		return item
	}
	contentType := image.MIMEType
	if contentType == "" {
		contentType = "image/png"
	}
	item.Path = objectstore.ImagePath(articleKey, ordinal, contentType)
	url, err := r.uploader.Upload(ctx, item.Path, image.Data, contentType)
	if err != nil {
		item.Err = fmt.Errorf("upload: %w", err)
		return item
	}
	item.URL = url
	return item
}

var altReplacer = strings.NewReplacer("[", "(", "]", ")", "\n", " ")

// Reference is the markdown image for an uploaded asset.
func Reference(description, url string) string {
	return "![" + altReplacer.Replace(strings.TrimSpace(description)) + "](" + url + ")"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
