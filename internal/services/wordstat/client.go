// Package wordstat queries the Yandex Wordstat API for search popularity data
// used to score mined topics.
package wordstat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"quill/internal/services"
	"quill/internal/textutil"
)

const (
	// MaxPhrases is the API limit on seed phrases per request.
	MaxPhrases = 128

	defaultBaseURL = "https://api.wordstat.yandex.net"
	defaultTimeout = 20 * time.Second
	defaultRate    = 10.0
)

// Config captures the Wordstat connection settings.
type Config struct {
	Token          string
	BaseURL        string
	TimeoutSeconds int
	RatePerSecond  float64
}

// Phrase is a search phrase with its monthly request count.
type Phrase struct {
	Phrase string `json:"phrase"`
	Count  int64  `json:"count"`
}

// TopRequests is the popularity report for one seed phrase.
type TopRequests struct {
	RequestPhrase string   `json:"requestPhrase"`
	TotalCount    int64    `json:"totalCount"`
	TopRequests   []Phrase `json:"topRequests"`
	Associations  []Phrase `json:"associations"`
}

// UserInfo describes the account quota.
type UserInfo struct {
	Login               string `json:"login"`
	LimitPerSecond      int    `json:"limitPerSecond"`
	DailyLimit          int    `json:"dailyLimit"`
	DailyLimitRemaining int    `json:"dailyLimitRemaining"`
}

// Client talks to the Wordstat API. Requests are paced by a token bucket.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

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

// NewClient constructs a Wordstat client.
func NewClient(cfg Config, opts ...Option) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = defaultRate
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.cfg.Token) != ""
}

// TopRequests returns the popular requests for up to MaxPhrases seed phrases.
// numPhrases <= 0 leaves the per-phrase count to the API default.
func (c *Client) TopRequests(ctx context.Context, phrases []string, numPhrases int) ([]TopRequests, error) {
	cleaned := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		if phrase = strings.TrimSpace(phrase); phrase != "" {
			cleaned = append(cleaned, phrase)
		}
	}
	if len(cleaned) == 0 {
		return nil, services.Wrap(services.ErrValidation, "wordstat", "top requests", "phrases required", nil)
	}
	if len(cleaned) > MaxPhrases {
		cleaned = cleaned[:MaxPhrases]
	}
	payload := map[string]any{"phrases": cleaned}
	if numPhrases > 0 {
		payload["numPhrases"] = numPhrases
	}
	var results []TopRequests
	if err := c.post(ctx, "/v1/topRequests", payload, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// SearchVolume returns the total monthly request count for a phrase. A phrase
// nobody searches for yields zero without error.
func (c *Client) SearchVolume(ctx context.Context, phrase string) (int64, error) {
	results, err := c.TopRequests(ctx, []string{phrase}, 1)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].TotalCount, nil
}

// UserInfo returns the account login and quota.
func (c *Client) UserInfo(ctx context.Context) (UserInfo, error) {
	var wrapper struct {
		UserInfo UserInfo `json:"userInfo"`
	}
	if err := c.post(ctx, "/v1/userInfo", map[string]any{}, &wrapper); err != nil {
		return UserInfo{}, err
	}
	return wrapper.UserInfo, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, target any) error {
	if !c.Enabled() {
		return services.Wrap(services.ErrConfiguration, "wordstat", path, "token required", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wordstat %s: rate limiter: %w", path, err)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "wordstat", path, "build url", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wordstat %s: encode body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("wordstat %s: new request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "wordstat", path, "", err)
		}
		return services.Wrap(services.ErrExternalService, "wordstat", path, "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "wordstat", path, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrExternalService, "wordstat", path,
			fmt.Sprintf("status %d: %s", resp.StatusCode, textutil.TruncateRunes(strings.TrimSpace(string(body)), 200)), nil)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return services.Wrap(services.ErrExternalService, "wordstat", path, "decode response", err)
	}
	return nil
}
