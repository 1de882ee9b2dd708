// Package imagegen generates illustrations through the Gemini generateContent
// API with the image response modality.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quill/internal/services"
	"quill/internal/textutil"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash-image"
	defaultTimeout = 90 * time.Second
	defaultMIME    = "image/png"
)

// ErrNoImage reports a response that carried no inline image part.
var ErrNoImage = errors.New("response contained no image")

// Image is a generated binary with its content type.
type Image struct {
	Data     []byte
	MIMEType string
}

// Generator produces one image for a prompt.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// Config captures the image API settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client calls Gemini's generateContent endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ Generator = (*Client)(nil)

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

// NewClient constructs an image client.
func NewClient(cfg Config, opts ...Option) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.cfg.APIKey) != ""
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// GenerateImage returns the first inline image of the first candidate.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Image{}, services.Wrap(services.ErrValidation, "imagegen", "generate", "prompt required", nil)
	}
	if !c.Enabled() {
		return Image{}, services.Wrap(services.ErrConfiguration, "imagegen", "generate", "api key required", nil)
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "v1beta", "models", c.cfg.Model+":generateContent")
	if err != nil {
		return Image{}, services.Wrap(services.ErrConfiguration, "imagegen", "build url", c.cfg.BaseURL, err)
	}
	payload := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Image{}, fmt.Errorf("imagegen: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Image{}, fmt.Errorf("imagegen: new request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Image{}, services.Wrap(services.ErrTimeout, "imagegen", "generate", "", err)
		}
		return Image{}, services.Wrap(services.ErrExternalService, "imagegen", "generate", "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, services.Wrap(services.ErrExternalService, "imagegen", "generate", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Image{}, services.Wrap(services.ErrExternalService, "imagegen", "generate",
			fmt.Sprintf("status %d: %s", resp.StatusCode, textutil.TruncateRunes(strings.TrimSpace(string(body)), 200)), nil)
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Image{}, services.Wrap(services.ErrExternalService, "imagegen", "generate", "decode response", err)
	}
	return firstImage(decoded)
}

func firstImage(resp generateResponse) (Image, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return Image{}, services.Wrap(services.ErrExternalService, "imagegen", "generate", "prompt blocked: "+resp.PromptFeedback.BlockReason, ErrNoImage)
	}
	if len(resp.Candidates) == 0 {
		return Image{}, services.Wrap(services.ErrExternalService, "imagegen", "generate", "no candidates", ErrNoImage)
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return Image{}, services.Wrap(services.ErrExternalService, "imagegen", "generate", "decode image data", err)
		}
		mime := strings.TrimSpace(p.InlineData.MIMEType)
		if mime == "" {
			mime = defaultMIME
		}
		return Image{Data: data, MIMEType: mime}, nil
	}
	reason := resp.Candidates[0].FinishReason
	if reason == "" {
		reason = "text only"
	}
	return Image{}, services.Wrap(services.ErrExternalService, "imagegen", "generate", reason, ErrNoImage)
}
