package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.loadEnvFile(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeServices()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizePublishing()
	c.normalizeSchedule()
	c.normalizeLogging()
	if err := c.normalizePrompts(); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.EnvFile, err = expandPath(strings.TrimSpace(c.Paths.EnvFile)); err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	return nil
}

// loadEnvFile populates the process environment from paths.env_file without
// overriding variables that are already set.
func (c *Config) loadEnvFile() error {
	if c.Paths.EnvFile == "" {
		return nil
	}
	if _, err := os.Stat(c.Paths.EnvFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if err := godotenv.Load(c.Paths.EnvFile); err != nil {
		return fmt.Errorf("paths.env_file: load %s: %w", c.Paths.EnvFile, err)
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = envFallback(c.LLM.APIKey, "OPENROUTER_API_KEY")
	c.LLM.BaseURL = orDefault(c.LLM.BaseURL, defaultLLMBaseURL)
	c.LLM.Model = orDefault(c.LLM.Model, defaultLLMModel)
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeout
	}
	c.LLM.Creative.Model = orDefault(c.LLM.Creative.Model, c.LLM.Model)
	c.LLM.Fast.Model = orDefault(c.LLM.Fast.Model, c.LLM.Model)
	if c.LLM.Creative.MaxTokens <= 0 {
		c.LLM.Creative.MaxTokens = creativeMaxTokens
	}
	if c.LLM.Fast.MaxTokens <= 0 {
		c.LLM.Fast.MaxTokens = fastMaxTokens
	}
}

func (c *Config) normalizeServices() {
	c.Research.APIKey = envFallback(c.Research.APIKey, "EXA_API_KEY")
	c.Research.BaseURL = strings.TrimRight(orDefault(c.Research.BaseURL, defaultExaBaseURL), "/")
	if c.Research.MaxCharacters <= 0 {
		c.Research.MaxCharacters = defaultExaMaxChars
	}

	c.Wordstat.Token = envFallback(c.Wordstat.Token, "WORDSTAT_TOKEN")
	c.Wordstat.BaseURL = strings.TrimRight(orDefault(c.Wordstat.BaseURL, defaultWordstatURL), "/")
	phrases := c.Wordstat.SeedPhrases[:0]
	for _, phrase := range c.Wordstat.SeedPhrases {
		if trimmed := strings.TrimSpace(phrase); trimmed != "" {
			phrases = append(phrases, trimmed)
		}
	}
	c.Wordstat.SeedPhrases = phrases

	c.Images.APIKey = envFallback(c.Images.APIKey, "GOOGLE_AI_API_KEY")
	c.Images.BaseURL = strings.TrimRight(orDefault(c.Images.BaseURL, defaultGeminiBaseURL), "/")
	c.Images.Model = orDefault(c.Images.Model, defaultGeminiModel)

	c.Announce.BotToken = envFallback(c.Announce.BotToken, "TELEGRAM_BOT_TOKEN")
	c.Announce.Channel = envFallback(c.Announce.Channel, "TELEGRAM_CHANNEL_ID")
	c.Announce.APIURL = orDefault(c.Announce.APIURL, defaultTelegramAPIURL)
	c.Announce.LinkText = orDefault(c.Announce.LinkText, defaultLinkText)

	c.API.Bind = orDefault(c.API.Bind, defaultAPIBind)
	c.API.TriggerSecret = envFallback(c.API.TriggerSecret, "CRON_SECRET")

	c.Notifications.NtfyTopic = envFallback(c.Notifications.NtfyTopic, "NTFY_TOPIC")
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageSupabase
	}
	c.Storage.SupabaseURL = strings.TrimRight(envFallback(c.Storage.SupabaseURL, "SUPABASE_URL"), "/")
	c.Storage.SupabaseKey = envFallback(c.Storage.SupabaseKey, "SUPABASE_SERVICE_KEY")
	c.Storage.Bucket = orDefault(c.Storage.Bucket, defaultBucket)
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	if strings.TrimSpace(c.Storage.LocalDir) == "" && c.Storage.Backend == StorageFilesystem {
		c.Storage.LocalDir = c.Paths.DataDir + "/images"
	}
	var err error
	if c.Storage.LocalDir, err = expandPath(strings.TrimSpace(c.Storage.LocalDir)); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePublishing() {
	c.Publisher.BlogURL = strings.TrimRight(envFallback(c.Publisher.BlogURL, "BLOG_URL"), "/")
	if c.Publisher.BlogURL == "" {
		c.Publisher.BlogURL = defaultBlogURL
	}
	c.Publisher.CTABaseURL = orDefault(c.Publisher.CTABaseURL, defaultCTABaseURL)
	c.Mining.TrendQuery = orDefault(c.Mining.TrendQuery, defaultTrendQuery)
	c.Feed.Title = orDefault(c.Feed.Title, defaultFeedTitle)
	c.Feed.Description = orDefault(c.Feed.Description, defaultFeedDescription)
	c.Feed.Language = orDefault(c.Feed.Language, defaultFeedLanguage)
}

func (c *Config) normalizeSchedule() {
	c.Schedule.Timezone = orDefault(c.Schedule.Timezone, defaultTimezone)
	c.Schedule.Generate = strings.TrimSpace(c.Schedule.Generate)
	c.Schedule.Mine = strings.TrimSpace(c.Schedule.Mine)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizePrompts() error {
	c.Prompts.Language = orDefault(c.Prompts.Language, defaultPromptLanguage)
	var err error
	if c.Prompts.Path, err = expandPath(strings.TrimSpace(c.Prompts.Path)); err != nil {
		return fmt.Errorf("prompts.path: %w", err)
	}
	return nil
}

func envFallback(value, key string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return ""
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
