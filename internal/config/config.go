package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	EnvFile string `toml:"env_file"`
}

// Profile contains sampling settings for one text generation profile.
type Profile struct {
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// LLM contains OpenRouter connection settings and the two generation profiles.
type LLM struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Referer        string  `toml:"referer"`
	Title          string  `toml:"title"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Creative       Profile `toml:"creative"`
	Fast           Profile `toml:"fast"`
}

// Research contains configuration for the Exa search API.
type Research struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MaxCharacters      int    `toml:"max_characters"`
	EnrichEmptySummary bool   `toml:"enrich_empty_summary"`
}

// Wordstat contains configuration for the search-popularity API.
type Wordstat struct {
	Token          string   `toml:"token"`
	BaseURL        string   `toml:"base_url"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	RatePerSecond  float64  `toml:"rate_per_second"`
	SeedPhrases    []string `toml:"seed_phrases"`
}

// Images contains configuration for the image generation API.
type Images struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxImages      int    `toml:"max_images"`
	DelayMillis    int    `toml:"delay_ms"`
}

// Storage selects and configures the object storage backend.
type Storage struct {
	Backend        string `toml:"backend"`
	SupabaseURL    string `toml:"supabase_url"`
	SupabaseKey    string `toml:"supabase_key"`
	Bucket         string `toml:"bucket"`
	LocalDir       string `toml:"local_dir"`
	PublicBaseURL  string `toml:"public_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Publisher contains article shaping settings.
type Publisher struct {
	MaxTitleLength int    `toml:"max_title_length"`
	MetaMaxLength  int    `toml:"meta_max_length"`
	CTABaseURL     string `toml:"cta_base_url"`
	BlogURL        string `toml:"blog_url"`
}

// Announce contains configuration for the channel announcement.
type Announce struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	Channel  string `toml:"channel"`
	APIURL   string `toml:"api_url"`
	LinkText string `toml:"link_text"`
}

// Mining contains configuration for topic discovery.
type Mining struct {
	TrendQuery    string `toml:"trend_query"`
	TrendResults  int    `toml:"trend_results"`
	HistoryTitles int    `toml:"history_titles"`
	TopicsPerRun  int    `toml:"topics_per_run"`
}

// Pipeline contains run-level settings.
type Pipeline struct {
	RunTimeoutSeconds int `toml:"run_timeout_seconds"`
	ResearchResults   int `toml:"research_results"`
	ClaimAttempts     int `toml:"claim_attempts"`
}

// Schedule contains cron specifications used by serve.
type Schedule struct {
	Enabled  bool   `toml:"enabled"`
	Timezone string `toml:"timezone"`
	Generate string `toml:"generate"`
	Mine     string `toml:"mine"`
}

// API contains the HTTP listener configuration.
type API struct {
	Bind          string `toml:"bind"`
	TriggerSecret string `toml:"trigger_secret"`
}

// Feed contains RSS channel metadata.
type Feed struct {
	Title       string `toml:"title"`
	Description string `toml:"description"`
	Language    string `toml:"language"`
	Limit       int    `toml:"limit"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunCompleted   bool   `toml:"run_completed"`
	RunAborted     bool   `toml:"run_aborted"`
	TopicsMined    bool   `toml:"topics_mined"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   bool   `toml:"file"`
}

// Prompts contains the prompt catalog override and output language.
type Prompts struct {
	Path     string `toml:"path"`
	Language string `toml:"language"`
}

// Config encapsulates all configuration values for Quill.
type Config struct {
	Paths         Paths         `toml:"paths"`
	LLM           LLM           `toml:"llm"`
	Research      Research      `toml:"research"`
	Wordstat      Wordstat      `toml:"wordstat"`
	Images        Images        `toml:"images"`
	Storage       Storage       `toml:"storage"`
	Publisher     Publisher     `toml:"publisher"`
	Announce      Announce      `toml:"announce"`
	Mining        Mining        `toml:"mining"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Schedule      Schedule      `toml:"schedule"`
	API           API           `toml:"api"`
	Feed          Feed          `toml:"feed"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Prompts       Prompts       `toml:"prompts"`
}

// EnsureDirectories creates the data and log directories, plus the local
// object storage directory when the filesystem backend is selected.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageFilesystem {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "quill.db")
}

// LockPath returns the single-instance lock file used by serve.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "quill.lock")
}

// RequirePipeline reports the credentials a full generation run cannot do without.
func (c *Config) RequirePipeline() error {
	var missing []string
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		missing = append(missing, "llm.api_key (OPENROUTER_API_KEY)")
	}
	if strings.TrimSpace(c.Research.APIKey) == "" {
		missing = append(missing, "research.api_key (EXA_API_KEY)")
	}
	if len(missing) == 0 {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = "~/.config/quill/config.toml"
	}
	return fmt.Errorf("%s required. Set the env vars or edit %s (create with 'quill config init')", strings.Join(missing, ", "), defaultPath)
}
