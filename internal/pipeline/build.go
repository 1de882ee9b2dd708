package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quill/internal/announce"
	"quill/internal/config"
	"quill/internal/editor"
	"quill/internal/imaging"
	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/miner"
	"quill/internal/notifications"
	"quill/internal/objectstore"
	"quill/internal/prompts"
	"quill/internal/publisher"
	"quill/internal/research"
	"quill/internal/services/imagegen"
	"quill/internal/services/llm"
	"quill/internal/services/wordstat"
	"quill/internal/stage"
	"quill/internal/store"
	"quill/internal/writer"
)

// Services holds the collaborators assembled from configuration. Images,
// Uploader and Telegram are nil when their feature is not configured.
type Services struct {
	Config    *config.Config
	Store     *store.Store
	LLM       *llm.Client
	Research  *research.Client
	Wordstat  *wordstat.Client
	Images    *imagegen.Client
	Uploader  objectstore.Uploader
	Prompts   *prompts.Catalog
	Telegram  *announce.Telegram
	Announcer *announce.Announcer
	Notifier  notifications.Service
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	Creative llm.Profile
	Fast     llm.Profile
}

// Build wires every collaborator from cfg. The store is owned by the caller.
func Build(cfg *config.Config, st *store.Store, logger *slog.Logger, m *metrics.Metrics) (*Services, error) {
	if cfg == nil || st == nil {
		return nil, fmt.Errorf("build services: config and store required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	catalog, err := prompts.Load(cfg.Prompts.Path, cfg.Prompts.Language)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	svc := &Services{
		Config:  cfg,
		Store:   st,
		Prompts: catalog,
		Metrics: m,
		Logger:  logger,
		LLM: llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}),
		Research: research.NewClient(research.Config{
			APIKey:             cfg.Research.APIKey,
			BaseURL:            cfg.Research.BaseURL,
			TimeoutSeconds:     cfg.Research.TimeoutSeconds,
			MaxCharacters:      cfg.Research.MaxCharacters,
			EnrichEmptySummary: cfg.Research.EnrichEmptySummary,
		}, research.WithLogger(logging.NewComponentLogger(logger, "research"))),
		Wordstat: wordstat.NewClient(wordstat.Config{
			Token:          cfg.Wordstat.Token,
			BaseURL:        cfg.Wordstat.BaseURL,
			TimeoutSeconds: cfg.Wordstat.TimeoutSeconds,
			RatePerSecond:  cfg.Wordstat.RatePerSecond,
		}),
		Notifier: notifications.NewService(cfg),
		Creative: profile("creative", cfg.LLM.Creative, cfg.LLM.Model),
		Fast:     profile("fast", cfg.LLM.Fast, cfg.LLM.Model),
	}

	if strings.TrimSpace(cfg.Images.APIKey) != "" {
		uploader, err := objectstore.New(cfg.Storage)
		if err != nil {
			return nil, err
		}
		svc.Uploader = uploader
		svc.Images = imagegen.NewClient(imagegen.Config{
			APIKey:         cfg.Images.APIKey,
			BaseURL:        cfg.Images.BaseURL,
			Model:          cfg.Images.Model,
			TimeoutSeconds: cfg.Images.TimeoutSeconds,
		})
	}

	var channel announce.Channel
	if cfg.Announce.Enabled && strings.TrimSpace(cfg.Announce.BotToken) != "" {
		tg, err := announce.NewTelegram(announce.TelegramConfig{
			Token:   cfg.Announce.BotToken,
			Channel: cfg.Announce.Channel,
			APIURL:  cfg.Announce.APIURL,
		})
		if err != nil {
			return nil, err
		}
		svc.Telegram = tg
		channel = tg
	}
	svc.Announcer = announce.New(
		announce.Config{BlogURL: cfg.Publisher.BlogURL, LinkText: cfg.Announce.LinkText},
		st, channel, svc.LLM, svc.Fast, catalog,
		announce.WithLogger(logging.NewComponentLogger(logger, "announce")),
		announce.WithMetrics(m),
	)
	return svc, nil
}

func profile(name string, p config.Profile, fallbackModel string) llm.Profile {
	model := strings.TrimSpace(p.Model)
	if model == "" {
		model = fallbackModel
	}
	return llm.Profile{Name: name, Model: model, Temperature: p.Temperature, MaxTokens: p.MaxTokens}
}

// Pipeline assembles the generation run.
func (s *Services) Pipeline() *Pipeline {
	cfg := s.Config
	logger := s.Logger

	resolverOpts := []imaging.Option{
		imaging.WithLogger(logging.NewComponentLogger(logger, "imaging")),
		imaging.WithMetrics(s.Metrics),
	}
	// Typed nil pointers would read as configured collaborators.
	var (
		images   imagegen.Generator
		uploader objectstore.Uploader
	)
	if s.Images != nil && s.Uploader != nil {
		images = s.Images
		uploader = s.Uploader
	}
	resolver := imaging.New(images, uploader, s.Prompts, imaging.Config{
		MaxImages: cfg.Images.MaxImages,
		Delay:     time.Duration(cfg.Images.DelayMillis) * time.Millisecond,
	}, resolverOpts...)

	var announcer Announcer
	if s.Announcer != nil {
		announcer = s.Announcer
	}

	return New(Config{
		ResearchResults: cfg.Pipeline.ResearchResults,
		ClaimAttempts:   cfg.Pipeline.ClaimAttempts,
		BlogURL:         cfg.Publisher.BlogURL,
	}, Deps{
		Topics:     s.Store,
		Researcher: s.Research,
		Writer: writer.New(s.LLM, s.Creative, s.Prompts, cfg.Publisher.CTABaseURL,
			logging.NewComponentLogger(logger, "writer")),
		Editor: editor.New(s.LLM, s.Fast, s.Prompts,
			editor.WithLogger(logging.NewComponentLogger(logger, "editor")),
			editor.WithMetrics(s.Metrics),
		),
		Images: resolver,
		Publisher: publisher.New(publisher.Config{
			MaxTitleLength: cfg.Publisher.MaxTitleLength,
			MetaMaxLength:  cfg.Publisher.MetaMaxLength,
			CTABaseURL:     cfg.Publisher.CTABaseURL,
		}, s.LLM, s.Fast, s.Prompts, s.Store,
			publisher.WithLogger(logging.NewComponentLogger(logger, "publisher")),
		),
		Announcer: announcer,
		Notifier:  s.Notifier,
		Metrics:   s.Metrics,
		Logger:    logger,
	})
}

// Miner assembles topic discovery.
func (s *Services) Miner() *miner.Miner {
	cfg := s.Config
	var volumes miner.Volumes
	if s.Wordstat != nil && s.Wordstat.Enabled() {
		volumes = s.Wordstat
	}
	return miner.New(miner.Config{
		TrendQuery:    cfg.Mining.TrendQuery,
		TrendResults:  cfg.Mining.TrendResults,
		HistoryTitles: cfg.Mining.HistoryTitles,
		TopicsPerRun:  cfg.Mining.TopicsPerRun,
		SeedPhrases:   cfg.Wordstat.SeedPhrases,
	}, miner.Deps{
		Searcher:  s.Research,
		Generator: s.LLM,
		Profile:   s.Creative,
		Volumes:   volumes,
		Store:     s.Store,
		Prompts:   s.Prompts,
		Logger:    logging.NewComponentLogger(s.Logger, "miner"),
		Metrics:   s.Metrics,
	})
}

// Mine runs one discovery cycle and notifies operators of the outcome.
func (s *Services) Mine(ctx context.Context) (miner.Result, error) {
	return Mine(ctx, s.Miner(), s.Notifier, s.Logger)
}

// Mine runs m and pushes a topics-mined notification on success.
func Mine(ctx context.Context, m *miner.Miner, notifier notifications.Service, logger *slog.Logger) (miner.Result, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	result, err := m.Mine(ctx)
	if err != nil {
		logging.ErrorWithContext(logger, "topic mining failed", "mining_failure",
			logging.String(logging.FieldErrorHint, "check research and model credentials"),
			logging.ErrorKind(err),
			logging.Error(err),
		)
		return result, err
	}
	if notifier != nil {
		if err := notifier.Publish(ctx, notifications.EventTopicsMined, notifications.Payload{
			"pending":  result.Pending,
			"rejected": result.Rejected,
		}); err != nil {
			logger.Debug("notification failed", logging.String("event", string(notifications.EventTopicsMined)), logging.Error(err))
		}
	}
	return result, nil
}

// Health probes the configured collaborators. Optional ones never make the
// system unready.
func (s *Services) Health(ctx context.Context) []stage.Health {
	checks := []stage.Checker{
		stage.CheckFunc(func(ctx context.Context) stage.Health {
			if err := s.Store.Ping(ctx); err != nil {
				return stage.Unhealthy("store", err.Error())
			}
			return stage.Healthy("store")
		}),
		stage.CheckFunc(func(ctx context.Context) stage.Health {
			if strings.TrimSpace(s.Config.LLM.APIKey) == "" {
				return stage.Unhealthy("llm", "api key not configured")
			}
			if err := s.LLM.HealthCheck(ctx); err != nil {
				return stage.Unhealthy("llm", err.Error())
			}
			return stage.Healthy("llm")
		}),
		stage.CheckFunc(func(context.Context) stage.Health {
			if strings.TrimSpace(s.Config.Research.APIKey) == "" {
				return stage.Unhealthy("research", "api key not configured")
			}
			return stage.Healthy("research")
		}),
		stage.Optional(stage.CheckFunc(func(ctx context.Context) stage.Health {
			if !s.Wordstat.Enabled() {
				return stage.Unhealthy("wordstat", "token not configured; topics keep model scores")
			}
			info, err := s.Wordstat.UserInfo(ctx)
			if err != nil {
				return stage.Unhealthy("wordstat", err.Error())
			}
			h := stage.Healthy("wordstat")
			h.Detail = fmt.Sprintf("%s: %d of %d daily requests left", info.Login, info.DailyLimitRemaining, info.DailyLimit)
			return h
		})),
		stage.Optional(stage.CheckFunc(func(context.Context) stage.Health {
			if s.Images == nil {
				return stage.Unhealthy("images", "api key not configured; articles publish without images")
			}
			h := stage.Healthy("images")
			h.Detail = "storage backend " + s.Config.Storage.Backend
			return h
		})),
		stage.Optional(stage.CheckFunc(func(ctx context.Context) stage.Health {
			if s.Telegram == nil {
				return stage.Unhealthy("telegram", "announcements disabled")
			}
			if err := s.Telegram.Check(ctx); err != nil {
				return stage.Unhealthy("telegram", err.Error())
			}
			return stage.Healthy("telegram")
		})),
	}
	return stage.Collect(ctx, checks...)
}
