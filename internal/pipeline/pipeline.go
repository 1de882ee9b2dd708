// Package pipeline runs one content generation cycle: it claims the best
// pending topic and takes it through research, drafting, editing, images,
// publishing and announcement. Image and announcement failures degrade the
// run; every other failure aborts it and leaves the topic in writing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"quill/internal/draft"
	"quill/internal/editor"
	"quill/internal/feed"
	"quill/internal/imaging"
	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/notifications"
	"quill/internal/publisher"
	"quill/internal/research"
	"quill/internal/services"
	"quill/internal/stageexec"
	"quill/internal/store"
	"quill/internal/textutil"
	"quill/internal/writer"
)

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeNoWork    Outcome = "no_work"
	OutcomeAborted   Outcome = "aborted"
)

// Topics is the topic store surface used for selection.
type Topics interface {
	SelectTopPending(ctx context.Context) (*store.Topic, error)
	Claim(ctx context.Context, id int64) (bool, error)
}

// Drafter writes the first draft.
type Drafter interface {
	Write(ctx context.Context, topic store.Topic, sources []research.Source) (writer.Draft, error)
}

// Editor runs the editing passes.
type Editor interface {
	Edit(ctx context.Context, body string) (editor.Result, error)
}

// Imager resolves image placeholders.
type Imager interface {
	Resolve(ctx context.Context, body, articleKey string) (imaging.Outcome, error)
}

// Publisher commits the article.
type Publisher interface {
	Publish(ctx context.Context, req publisher.Request) (publisher.Published, error)
}

// Announcer notifies the external channel.
type Announcer interface {
	Announce(ctx context.Context, slug string) error
}

// Deps are the stage collaborators of a Pipeline. Notifier and Metrics may be nil.
type Deps struct {
	Topics     Topics
	Researcher research.Searcher
	Writer     Drafter
	Editor     Editor
	Images     Imager
	Publisher  Publisher
	Announcer  Announcer
	Notifier   notifications.Service
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Config holds run-level settings.
type Config struct {
	ResearchResults int
	// ClaimAttempts bounds how often selection retries after losing a claim
	// race to a concurrent run.
	ClaimAttempts int
	// BlogURL is used to build the article link in notifications.
	BlogURL string
}

// Pipeline executes runs. It holds no per-run state and is safe for
// concurrent use; concurrent runs are serialized only by the topic claim.
type Pipeline struct {
	cfg      Config
	deps     Deps
	newRunID func() string
}

// New constructs a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.ResearchResults <= 0 {
		cfg.ResearchResults = 6
	}
	if cfg.ClaimAttempts <= 0 {
		cfg.ClaimAttempts = 5
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(nil)
	}
	return &Pipeline{cfg: cfg, deps: deps, newRunID: uuid.NewString}
}

// Result reports a finished run.
type Result struct {
	RunID           string
	Outcome         Outcome
	State           State
	Path            []State
	TopicID         int64
	Title           string
	Slug            string
	Cover           string
	ImagesGenerated int
	ImagesFailed    int
	Degraded        []State
	Err             error
}

// run carries the values produced by one stage for the next.
type run struct {
	topic     store.Topic
	sources   []research.Source
	draft     writer.Draft
	body      string
	cover     string
	resolved  int
	failed    int
	published publisher.Published
}

type stageSpec struct {
	state      State
	degradable bool
	impact     string
	fn         func(ctx context.Context, logger *slog.Logger, r *run) error
	// fallback repairs the run after a degradable failure.
	fallback func(r *run)
}

func (p *Pipeline) stages() []stageSpec {
	return []stageSpec{
		{state: StateResearching, fn: p.research},
		{state: StateDrafting, fn: p.write},
		{state: StateEditing, fn: p.edit},
		{
			state:      StateImaging,
			degradable: true,
			impact:     "article published without images",
			fn:         p.images,
			fallback: func(r *run) {
				r.body = draft.StripPlaceholders(r.body)
				r.cover = ""
				r.resolved = 0
			},
		},
		{state: StatePublishing, fn: p.publish},
		{state: StateAnnouncing, degradable: true, impact: "article not announced", fn: p.announce},
	}
}

// Run executes one cycle. A run without pending topics returns OutcomeNoWork
// and a nil error. An aborted run returns its error alongside the result.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	runID := p.newRunID()
	ctx = services.WithRunID(ctx, runID)
	base := logging.NewComponentLogger(p.deps.Logger, "pipeline")
	logger := logging.WithContext(ctx, base)
	sm := newMachine()
	result := Result{RunID: runID}

	logger.Info("run started", logging.String(logging.FieldEventType, "run_start"))

	topic, err := p.selectTopic(ctx, logger)
	if err != nil {
		return p.finish(result, sm, OutcomeAborted, p.abort(ctx, logger, sm, nil, err))
	}
	if topic == nil {
		_ = sm.advance(StateDone)
		logger.Info("no pending topics", logging.String(logging.FieldEventType, "run_no_work"))
		return p.finish(result, sm, OutcomeNoWork, nil)
	}
	ctx = services.WithTopicID(ctx, topic.ID)
	logger = logging.WithContext(ctx, base)
	result.TopicID = topic.ID
	result.Title = topic.Title

	r := &run{topic: *topic}
	for _, st := range p.stages() {
		if err := sm.advance(st.state); err != nil {
			return p.finish(result, sm, OutcomeAborted, p.abort(ctx, logger, sm, topic, err))
		}
		err := stageexec.Run(ctx, stageexec.Options{
			Logger:     logger,
			Metrics:    p.deps.Metrics,
			Stage:      string(st.state),
			Degradable: st.degradable,
			Impact:     st.impact,
		}, func(ctx context.Context, logger *slog.Logger) error {
			err := st.fn(ctx, logger, r)
			if err != nil && st.degradable && !errors.Is(err, context.Canceled) {
				result.Degraded = append(result.Degraded, st.state)
				if st.fallback != nil {
					st.fallback(r)
				}
			}
			return err
		})
		if err != nil && st.state == StateAnnouncing {
			// The article is committed; only the announcement was cut short.
			logger.Info("announcement interrupted", logging.Error(err))
			break
		}
		if err != nil {
			return p.finish(result, sm, OutcomeAborted, p.abort(ctx, logger, sm, topic, err))
		}
	}
	_ = sm.advance(StateDone)

	result.Title = r.published.Title
	result.Slug = r.published.Slug
	result.Cover = r.cover
	result.ImagesGenerated = r.resolved
	result.ImagesFailed = r.failed
	logger.Info("run complete",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("slug", result.Slug),
		logging.Int("images", result.ImagesGenerated),
		logging.Int("degraded_stages", len(result.Degraded)),
	)
	p.notify(ctx, logger, notifications.EventRunCompleted, notifications.Payload{
		"title":  result.Title,
		"images": result.ImagesGenerated,
		"url":    feed.ArticleURL(p.cfg.BlogURL, result.Slug),
	})
	return p.finish(result, sm, OutcomePublished, nil)
}

func (p *Pipeline) finish(result Result, sm *machine, outcome Outcome, err error) (Result, error) {
	result.Outcome = outcome
	result.State = sm.current
	result.Path = append([]State(nil), sm.path...)
	result.Err = err
	p.deps.Metrics.ObserveRun(string(outcome))
	return result, err
}

// selectTopic claims the highest ranked pending topic. Losing a claim race
// moves on to the next candidate, up to ClaimAttempts times.
func (p *Pipeline) selectTopic(ctx context.Context, logger *slog.Logger) (*store.Topic, error) {
	for attempt := 1; attempt <= p.cfg.ClaimAttempts; attempt++ {
		topic, err := p.deps.Topics.SelectTopPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("select topic: %w", err)
		}
		if topic == nil {
			return nil, nil
		}
		claimed, err := p.deps.Topics.Claim(ctx, topic.ID)
		if err != nil {
			return nil, fmt.Errorf("claim topic %d: %w", topic.ID, err)
		}
		if claimed {
			logger.Info("topic claimed",
				logging.String(logging.FieldEventType, "topic_claimed"),
				logging.Int64(logging.FieldTopicID, topic.ID),
				logging.String("title", topic.Title),
				logging.Int("score", topic.Score),
			)
			return topic, nil
		}
		logger.Debug("topic claimed by another run", logging.Int64(logging.FieldTopicID, topic.ID), logging.Int("attempt", attempt))
	}
	logger.Info("gave up selecting after lost claims", logging.Int("attempts", p.cfg.ClaimAttempts))
	return nil, nil
}

func (p *Pipeline) research(ctx context.Context, logger *slog.Logger, r *run) error {
	sources, err := p.deps.Researcher.Search(ctx, r.topic.Query(), p.cfg.ResearchResults)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		logging.WarnWithContext(logger, "research returned no sources", "research_empty",
			logging.String(logging.FieldErrorHint, "the search provider found nothing for the topic query"),
			logging.String(logging.FieldImpact, "article drafted without citations"),
		)
	}
	r.sources = sources
	return nil
}

func (p *Pipeline) write(ctx context.Context, _ *slog.Logger, r *run) error {
	d, err := p.deps.Writer.Write(ctx, r.topic, r.sources)
	if err != nil {
		return err
	}
	r.draft = d
	r.body = d.Body
	return nil
}

func (p *Pipeline) edit(ctx context.Context, _ *slog.Logger, r *run) error {
	edited, err := p.deps.Editor.Edit(ctx, r.body)
	if err != nil {
		return err
	}
	r.body = edited.Body
	return nil
}

func (p *Pipeline) images(ctx context.Context, _ *slog.Logger, r *run) error {
	outcome, err := p.deps.Images.Resolve(ctx, r.body, ArticleKey(r.topic))
	if err != nil {
		return err
	}
	r.body = outcome.Body
	r.cover = outcome.Cover
	r.resolved = outcome.Resolved()
	r.failed = outcome.Failed()
	return nil
}

func (p *Pipeline) publish(ctx context.Context, _ *slog.Logger, r *run) error {
	published, err := p.deps.Publisher.Publish(ctx, publisher.Request{
		TopicID: r.topic.ID,
		Title:   r.draft.Title,
		Body:    r.body,
		Tags:    r.topic.Keywords,
		Cover:   r.cover,
	})
	if err != nil {
		return err
	}
	r.published = published
	return nil
}

func (p *Pipeline) announce(ctx context.Context, _ *slog.Logger, r *run) error {
	if p.deps.Announcer == nil {
		return nil
	}
	return p.deps.Announcer.Announce(ctx, r.published.Slug)
}

// abort moves the run to aborted, reports it and returns err.
func (p *Pipeline) abort(ctx context.Context, logger *slog.Logger, sm *machine, topic *store.Topic, err error) error {
	failedAt := sm.current
	_ = sm.advance(StateAborted)
	if errors.Is(err, context.Canceled) {
		logger.Info("run cancelled", logging.String("stage", string(failedAt)))
		return err
	}
	label := ""
	if topic != nil {
		label = fmt.Sprintf("#%d %s", topic.ID, topic.Title)
	}
	logger.Error("run aborted",
		logging.String(logging.FieldEventType, "run_aborted"),
		logging.String("failed_stage", string(failedAt)),
		logging.String(logging.FieldErrorHint, "the topic stays in writing; requeue it with 'quill topics requeue'"),
		logging.ErrorKind(err),
		logging.Error(err),
	)
	p.notify(ctx, logger, notifications.EventRunAborted, notifications.Payload{
		"stage": string(failedAt),
		"topic": label,
		"error": err,
	})
	return err
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := p.deps.Notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, notification not sent", logging.String("event", string(event)))
			return
		}
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

// ArticleKey names the storage folder of an article's images. The topic id
// prefix keeps folders apart when two titles slug the same; post-<id> is used
// when the title has no usable characters.
func ArticleKey(topic store.Topic) string {
	if slug := textutil.Slugify(topic.Title); slug != "" {
		return fmt.Sprintf("%d-%s", topic.ID, slug)
	}
	return fmt.Sprintf("post-%d", topic.ID)
}
