package objectstore

import (
	"bytes"
	"context"
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

const defaultSupabaseTimeout = 60 * time.Second

// SupabaseConfig captures the Supabase Storage settings.
type SupabaseConfig struct {
	URL            string
	ServiceKey     string
	Bucket         string
	TimeoutSeconds int
}

// Supabase uploads objects through the Supabase Storage REST API.
type Supabase struct {
	cfg        SupabaseConfig
	httpClient *http.Client
}

var _ Uploader = (*Supabase)(nil)

// NewSupabase constructs a Supabase Storage backend.
func NewSupabase(cfg SupabaseConfig) *Supabase {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	timeout := defaultSupabaseTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Supabase{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// WithHTTPClient replaces the HTTP client, mostly for tests.
func (s *Supabase) WithHTTPClient(client *http.Client) *Supabase {
	if client != nil {
		s.httpClient = client
	}
	return s
}

// Upload stores data with upsert semantics and returns the public object URL.
func (s *Supabase) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	if s.cfg.URL == "" || strings.TrimSpace(s.cfg.ServiceKey) == "" {
		return "", services.Wrap(services.ErrConfiguration, "objectstore", "supabase upload", "url and service key required", nil)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	endpoint, err := url.JoinPath(s.cfg.URL, "storage", "v1", "object", s.cfg.Bucket, cleaned)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "objectstore", "build url", s.cfg.URL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("objectstore: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)
	req.Header.Set("apikey", s.cfg.ServiceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Cache-Control", "max-age=3600")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "objectstore", "supabase upload", cleaned, err)
		}
		return "", services.Wrap(services.ErrExternalService, "objectstore", "supabase upload", cleaned, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", services.Wrap(services.ErrExternalService, "objectstore", "supabase upload",
			fmt.Sprintf("%s: status %d: %s", cleaned, resp.StatusCode, textutil.TruncateRunes(strings.TrimSpace(string(body)), 200)), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return s.PublicURL(cleaned)
}

// PublicURL returns the public URL of an object in the configured bucket.
func (s *Supabase) PublicURL(objectPath string) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	publicURL, err := url.JoinPath(s.cfg.URL, "storage", "v1", "object", "public", s.cfg.Bucket, cleaned)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "objectstore", "build public url", s.cfg.URL, err)
	}
	return publicURL, nil
}
