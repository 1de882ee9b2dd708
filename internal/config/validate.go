package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validatePublisher(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateAnnounce(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLLM() error {
	for name, profile := range map[string]Profile{"llm.creative": c.LLM.Creative, "llm.fast": c.LLM.Fast} {
		if profile.Temperature < 0 || profile.Temperature > 2 {
			return fmt.Errorf("%s.temperature must be between 0 and 2", name)
		}
	}
	if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
		return fmt.Errorf("llm.base_url is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageSupabase:
	case StorageFilesystem:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set when storage.backend is filesystem")
		}
		if c.Storage.PublicBaseURL == "" {
			return errors.New("storage.public_base_url must be set when storage.backend is filesystem")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported (use %s or %s)", c.Storage.Backend, StorageSupabase, StorageFilesystem)
	}
	if strings.ContainsAny(c.Storage.Bucket, "/ ") {
		return errors.New("storage.bucket must not contain slashes or spaces")
	}
	return nil
}

func (c *Config) validatePublisher() error {
	if c.Publisher.MaxTitleLength < 10 {
		return errors.New("publisher.max_title_length must be at least 10")
	}
	if c.Publisher.MetaMaxLength < 50 {
		return errors.New("publisher.meta_max_length must be at least 50")
	}
	if _, err := url.ParseRequestURI(c.Publisher.CTABaseURL); err != nil {
		return fmt.Errorf("publisher.cta_base_url is invalid: %w", err)
	}
	if _, err := url.ParseRequestURI(c.Publisher.BlogURL); err != nil {
		return fmt.Errorf("publisher.blog_url is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateLimits() error {
	if err := ensurePositiveMap(map[string]int{
		"llm.timeout_seconds":           c.LLM.TimeoutSeconds,
		"research.timeout_seconds":      c.Research.TimeoutSeconds,
		"wordstat.timeout_seconds":      c.Wordstat.TimeoutSeconds,
		"images.timeout_seconds":        c.Images.TimeoutSeconds,
		"storage.timeout_seconds":       c.Storage.TimeoutSeconds,
		"mining.trend_results":          c.Mining.TrendResults,
		"mining.history_titles":         c.Mining.HistoryTitles,
		"mining.topics_per_run":         c.Mining.TopicsPerRun,
		"pipeline.run_timeout_seconds":  c.Pipeline.RunTimeoutSeconds,
		"pipeline.research_results":     c.Pipeline.ResearchResults,
		"pipeline.claim_attempts":       c.Pipeline.ClaimAttempts,
		"feed.limit":                    c.Feed.Limit,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Images.MaxImages < 0 {
		return errors.New("images.max_images must be >= 0")
	}
	if c.Images.DelayMillis < 0 {
		return errors.New("images.delay_ms must be >= 0")
	}
	if c.Wordstat.RatePerSecond <= 0 {
		return errors.New("wordstat.rate_per_second must be positive")
	}
	if len(c.Wordstat.SeedPhrases) > 128 {
		return errors.New("wordstat.seed_phrases accepts at most 128 phrases")
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	for key, spec := range map[string]string{"schedule.generate": c.Schedule.Generate, "schedule.mine": c.Schedule.Mine} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q: %w", key, spec, err)
		}
	}
	return nil
}

func (c *Config) validateAnnounce() error {
	if strings.Count(c.Announce.APIURL, "%s") != 2 {
		return errors.New("announce.api_url must contain two %s placeholders (token, method)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
