package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"quill/internal/services"
	"quill/internal/textutil"
)

const (
	defaultBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultTimeout   = 120 * time.Second
	maxResponseBytes = 8 << 20
	snippetRunes     = 200
)

// Config holds the OpenRouter connection settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// Profile selects the model and sampling settings for one request. An empty
// Model falls back to Config.Model.
type Profile struct {
	Name        string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator turns a prompt into raw model text.
type Generator interface {
	Generate(ctx context.Context, prompt string, profile Profile) (string, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg   Config
	http  *http.Client
	retry retryPolicy
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRetry sets the attempt budget and the backoff window. Attempts below 1
// disable retries.
func WithRetry(attempts int, base, ceiling time.Duration) Option {
	return func(c *Client) {
		c.retry.attempts = max1(attempts)
		c.retry.base = base
		c.retry.ceiling = ceiling
	}
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.retry.sleep = sleep
		}
	}
}

// NewClient builds a client from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.Referer = strings.TrimSpace(cfg.Referer)
	cfg.Title = strings.TrimSpace(cfg.Title)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: timeout},
		retry: defaultRetry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends prompt as a single user message under profile.
func (c *Client) Generate(ctx context.Context, prompt string, profile Profile) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", services.Wrap(services.ErrValidation, "llm", "generate", "empty prompt", nil)
	}
	model := strings.TrimSpace(profile.Model)
	if model == "" {
		model = c.cfg.Model
	}
	label := profile.Name
	if label == "" {
		label = "generate"
	}
	return c.complete(ctx, label, chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: profile.Temperature,
		MaxTokens:   profile.MaxTokens,
	})
}

// HealthCheck sends a tiny prompt and expects any non-empty reply.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.complete(ctx, "health", chatRequest{
		Model:     c.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: "Reply with the single word OK."}},
		MaxTokens: 16,
	})
	return err
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// text returns the first non-empty completion and its finish reason.
func (r chatResponse) text() (string, string) {
	for _, choice := range r.Choices {
		for _, candidate := range []string{choice.Message.Content, choice.Delta.Content, choice.Text} {
			if strings.TrimSpace(candidate) != "" {
				return candidate, choice.FinishReason
			}
		}
	}
	if len(r.Choices) > 0 {
		return "", r.Choices[0].FinishReason
	}
	return "", ""
}

func (c *Client) complete(ctx context.Context, op string, req chatRequest) (string, error) {
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "llm", op, "api key not set", nil)
	}
	if req.Model == "" {
		return "", services.Wrap(services.ErrConfiguration, "llm", op, "model not set", nil)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", op, err)
	}

	for attempt := 1; ; attempt++ {
		text, err := c.post(ctx, body)
		if err == nil {
			return text, nil
		}
		wait, again := c.retry.next(ctx, err, attempt)
		if !again {
			return "", fmt.Errorf("llm %s (attempt %d): %w", op, attempt, err)
		}
		if serr := c.retry.sleep(ctx, wait); serr != nil {
			return "", fmt.Errorf("llm %s (attempt %d): %w", op, attempt, serr)
		}
	}
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "llm", "request", c.cfg.BaseURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", services.Wrap(services.ErrTimeout, "llm", "request", "", err)
		}
		return "", services.Wrap(services.ErrExternalService, "llm", "request", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "llm", "read response", "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{
			code:       resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			body:       snippet(string(raw)),
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", services.Wrap(services.ErrMalformedOutput, "llm", "decode response", snippet(string(raw)), err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", services.Wrap(services.ErrExternalService, "llm", "api", decoded.Error.Message, nil)
	}
	text, finish := decoded.text()
	if text == "" {
		return "", &emptyError{finish: finish}
	}
	return text, nil
}

// statusError is a non-2xx reply from the endpoint.
type statusError struct {
	code       int
	retryAfter time.Duration
	body       string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("llm http %d", e.code)
	}
	return fmt.Sprintf("llm http %d: %s", e.code, e.body)
}

func (e *statusError) Unwrap() error { return services.ErrExternalService }

func (e *statusError) transient() bool {
	return e.code == http.StatusRequestTimeout || e.code == http.StatusTooManyRequests || e.code >= 500
}

// emptyError is a 2xx reply that carried no text.
type emptyError struct {
	finish string
}

func (e *emptyError) Error() string {
	if e.finish == "" {
		return "llm returned empty content"
	}
	return "llm returned empty content (finish_reason " + e.finish + ")"
}

func (e *emptyError) Unwrap() error { return services.ErrMalformedOutput }

func snippet(s string) string {
	return textutil.TruncateRunes(textutil.CollapseWhitespace(s), snippetRunes)
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
