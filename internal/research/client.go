package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"

	"quill/internal/logging"
	"quill/internal/services"
	"quill/internal/textutil"
)

const (
	// SummaryLimit caps the summary handed to the writer, in runes.
	SummaryLimit = 500

	defaultBaseURL       = "https://api.exa.ai"
	defaultTimeout       = 30 * time.Second
	defaultMaxCharacters = 2000
	pageReadLimit        = 4 << 20
)

// Source is one research result.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// Searcher returns ranked sources for a query. Transport and API failures are
// errors, never an empty result.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Source, error)
}

// Config captures the Exa connection settings.
type Config struct {
	APIKey             string
	BaseURL            string
	TimeoutSeconds     int
	MaxCharacters      int
	EnrichEmptySummary bool
}

// Client talks to the Exa search API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

var _ Searcher = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the clock used to date search queries.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger for enrichment diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a search client.
func NewClient(cfg Config, opts ...Option) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxCharacters <= 0 {
		cfg.MaxCharacters = defaultMaxCharacters
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type searchRequest struct {
	Query         string         `json:"query"`
	NumResults    int            `json:"numResults"`
	UseAutoprompt bool           `json:"useAutoprompt"`
	Type          string         `json:"type"`
	Contents      searchContents `json:"contents"`
}

type searchContents struct {
	Text searchText `json:"text"`
}

type searchText struct {
	MaxCharacters int `json:"maxCharacters"`
}

type searchResponse struct {
	Results []struct {
		Title *string `json:"title"`
		URL   string  `json:"url"`
		Text  string  `json:"text"`
	} `json:"results"`
}

// Search queries Exa for the given query, dated with today's date so results
// favour recent coverage.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, services.Wrap(services.ErrValidation, "research", "search", "query required", nil)
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "research", "search", "api key required", nil)
	}
	if limit <= 0 {
		limit = 6
	}

	payload := searchRequest{
		Query:         query + " " + c.now().UTC().Format("2006-01-02"),
		NumResults:    limit,
		UseAutoprompt: true,
		Type:          "auto",
		Contents:      searchContents{Text: searchText{MaxCharacters: c.cfg.MaxCharacters}},
	}
	var decoded searchResponse
	if err := c.post(ctx, "/search", payload, &decoded); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(decoded.Results))
	for _, result := range decoded.Results {
		title := "Untitled"
		if result.Title != nil && strings.TrimSpace(*result.Title) != "" {
			title = strings.TrimSpace(*result.Title)
		}
		summary := strings.TrimSpace(result.Text)
		if summary == "" && c.cfg.EnrichEmptySummary && result.URL != "" {
			summary = c.enrich(ctx, result.URL)
		}
		sources = append(sources, Source{
			Title:   title,
			URL:     result.URL,
			Summary: textutil.TruncateRunes(textutil.CollapseWhitespace(summary), SummaryLimit),
		})
	}
	return sources, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, target any) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "research", "build url", c.cfg.BaseURL, err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("research: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("research: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "research", "exa search", "", err)
		}
		return services.Wrap(services.ErrExternalService, "research", "exa search", "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "research", "exa search", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrExternalService, "research", "exa search",
			fmt.Sprintf("status %d: %s", resp.StatusCode, textutil.TruncateRunes(strings.TrimSpace(string(body)), 200)), nil)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return services.Wrap(services.ErrExternalService, "research", "exa search", "decode response", err)
	}
	return nil
}

// enrich downloads the page and extracts its readable text. Failures yield an
// empty summary.
func (c *Client) enrich(ctx context.Context, rawURL string) string {
	pageURL, err := url.Parse(rawURL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("source enrichment failed", logging.String("url", rawURL), logging.Error(err))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Debug("source enrichment failed", logging.String("url", rawURL), logging.Int("status", resp.StatusCode))
		return ""
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, pageReadLimit), pageURL)
	if err != nil {
		c.logger.Debug("source extraction failed", logging.String("url", rawURL), logging.Error(err))
		return ""
	}
	var text strings.Builder
	if err := article.RenderText(&text); err != nil {
		return ""
	}
	return textutil.TruncateRunes(strings.TrimSpace(text.String()), c.cfg.MaxCharacters)
}
