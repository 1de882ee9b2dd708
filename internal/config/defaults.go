package config

const (
	defaultDataDir  = "~/.local/share/quill"
	defaultLogDir   = "~/.local/state/quill/logs"
	defaultEnvFile  = "~/.config/quill/.env"
	defaultLogLevel = "info"

	defaultLLMBaseURL    = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel      = "google/gemini-2.0-flash-001"
	defaultLLMReferer    = "https://github.com/quill"
	defaultLLMTitle      = "Quill"
	defaultLLMTimeout    = 120
	creativeTemperature  = 0.8
	creativeMaxTokens    = 16384
	fastTemperature      = 0.4
	fastMaxTokens        = 8192
	defaultExaBaseURL    = "https://api.exa.ai"
	defaultExaTimeout    = 30
	defaultExaMaxChars   = 2000
	defaultWordstatURL   = "https://api.wordstat.yandex.net"
	defaultWordstatRPS   = 10
	defaultWordstatTO    = 20
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.5-flash-image"
	defaultImagesTimeout = 90
	defaultMaxImages     = 3
	defaultImageDelayMS  = 2000
	defaultBucket        = "blog-images"
	defaultStorageTO     = 60

	defaultMaxTitleLength = 55
	defaultMetaMaxLength  = 160
	defaultCTABaseURL     = "https://sabka.pro"
	defaultBlogURL        = "https://sabka.pro"
	defaultTelegramAPIURL = "https://api.telegram.org/bot%s/%s"
	defaultLinkText       = "Читать статью"

	defaultTrendQuery    = "AI chatbots neural networks news"
	defaultTrendResults  = 8
	defaultHistoryTitles = 50
	defaultTopicsPerRun  = 10

	defaultRunTimeout      = 900
	defaultResearchResults = 6
	defaultClaimAttempts   = 5

	defaultTimezone     = "UTC"
	defaultGenerateCron = "0 5 * * *"
	defaultMineCron     = "0 4 */3 * *"
	defaultAPIBind      = "127.0.0.1:7488"

	defaultFeedTitle       = "Sabka Blog"
	defaultFeedDescription = "Articles about AI assistants and productivity"
	defaultFeedLanguage    = "ru"
	defaultFeedLimit       = 20

	defaultNotifyTimeout  = 10
	defaultPromptLanguage = "Russian"
)

// Storage backends.
const (
	StorageSupabase   = "supabase"
	StorageFilesystem = "filesystem"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			EnvFile: defaultEnvFile,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeout,
			Creative:       Profile{Temperature: creativeTemperature, MaxTokens: creativeMaxTokens},
			Fast:           Profile{Temperature: fastTemperature, MaxTokens: fastMaxTokens},
		},
		Research: Research{
			BaseURL:        defaultExaBaseURL,
			TimeoutSeconds: defaultExaTimeout,
			MaxCharacters:  defaultExaMaxChars,
		},
		Wordstat: Wordstat{
			BaseURL:        defaultWordstatURL,
			TimeoutSeconds: defaultWordstatTO,
			RatePerSecond:  defaultWordstatRPS,
		},
		Images: Images{
			BaseURL:        defaultGeminiBaseURL,
			Model:          defaultGeminiModel,
			TimeoutSeconds: defaultImagesTimeout,
			MaxImages:      defaultMaxImages,
			DelayMillis:    defaultImageDelayMS,
		},
		Storage: Storage{
			Backend:        StorageSupabase,
			Bucket:         defaultBucket,
			TimeoutSeconds: defaultStorageTO,
		},
		Publisher: Publisher{
			MaxTitleLength: defaultMaxTitleLength,
			MetaMaxLength:  defaultMetaMaxLength,
			CTABaseURL:     defaultCTABaseURL,
			BlogURL:        defaultBlogURL,
		},
		Announce: Announce{
			Enabled:  true,
			APIURL:   defaultTelegramAPIURL,
			LinkText: defaultLinkText,
		},
		Mining: Mining{
			TrendQuery:    defaultTrendQuery,
			TrendResults:  defaultTrendResults,
			HistoryTitles: defaultHistoryTitles,
			TopicsPerRun:  defaultTopicsPerRun,
		},
		Pipeline: Pipeline{
			RunTimeoutSeconds: defaultRunTimeout,
			ResearchResults:   defaultResearchResults,
			ClaimAttempts:     defaultClaimAttempts,
		},
		Schedule: Schedule{
			Enabled:  true,
			Timezone: defaultTimezone,
			Generate: defaultGenerateCron,
			Mine:     defaultMineCron,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Feed: Feed{
			Title:       defaultFeedTitle,
			Description: defaultFeedDescription,
			Language:    defaultFeedLanguage,
			Limit:       defaultFeedLimit,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			RunCompleted:   true,
			RunAborted:     true,
			TopicsMined:    true,
		},
		Logging: Logging{
			Format: "console",
			Level:  defaultLogLevel,
			File:   true,
		},
		Prompts: Prompts{
			Language: defaultPromptLanguage,
		},
	}
}
