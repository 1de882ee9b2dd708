// Package miner discovers candidate topics from trend research and stores
// them in the topic store, scored by the model and, when available, by
// search popularity.
package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/prompts"
	"quill/internal/research"
	"quill/internal/services"
	"quill/internal/services/llm"
	"quill/internal/services/wordstat"
	"quill/internal/store"
	"quill/internal/textutil"
)

const (
	// VolumeSaturation is the monthly search volume that earns the full
	// popularity component of the blended score.
	VolumeSaturation = 10000

	// NearDuplicateSimilarity is the title similarity at which a candidate
	// counts as a rewording of an existing topic.
	NearDuplicateSimilarity = 0.9

	seedRequestsPerPhrase = 50
	seedTopLines          = 20
	seedAssociationLines  = 10
)

// Volumes supplies search popularity signals.
type Volumes interface {
	Enabled() bool
	SearchVolume(ctx context.Context, phrase string) (int64, error)
	TopRequests(ctx context.Context, phrases []string, numPhrases int) ([]wordstat.TopRequests, error)
}

// Store is the topic persistence the miner needs.
type Store interface {
	RecentTitles(ctx context.Context, limit int) ([]string, error)
	InsertMined(ctx context.Context, topics []store.Topic) ([]int64, error)
}

// Config controls one mining run.
type Config struct {
	TrendQuery    string
	TrendResults  int
	HistoryTitles int
	TopicsPerRun  int
	SeedPhrases   []string
}

// Deps are the collaborators of a Miner. Volumes may be nil.
type Deps struct {
	Searcher  research.Searcher
	Generator llm.Generator
	Profile   llm.Profile
	Volumes   Volumes
	Store     Store
	Prompts   *prompts.Catalog
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Miner produces and stores candidate topics.
type Miner struct {
	cfg  Config
	deps Deps
}

// New constructs a Miner.
func New(cfg Config, deps Deps) *Miner {
	if cfg.TopicsPerRun <= 0 {
		cfg.TopicsPerRun = 10
	}
	if cfg.TrendResults <= 0 {
		cfg.TrendResults = 8
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Miner{cfg: cfg, deps: deps}
}

// Candidate is one topic proposed by the model.
type Candidate struct {
	Title    string   `json:"title"`
	Angle    string   `json:"angle"`
	Keywords []string `json:"keywords"`
	Score    float64  `json:"score"`
}

// Result summarizes a mining run.
type Result struct {
	Proposed       int
	Skipped        int
	Pending        int
	Rejected       int
	IDs            []int64
	VolumeDegraded bool
}

// Stored returns the number of inserted topics.
func (r Result) Stored() int {
	return len(r.IDs)
}

type promptData struct {
	Trends   []research.Source
	Popular  []string
	Existing []string
	Count    int
}

// Mine runs one discovery cycle: trend research, generation, dedup, scoring,
// insert. Research, generation and malformed model output are fatal; popularity
// lookups degrade to model-only scores.
func (m *Miner) Mine(ctx context.Context) (Result, error) {
	logger := logging.WithContext(ctx, m.deps.Logger)
	var result Result

	trends, err := m.deps.Searcher.Search(ctx, m.cfg.TrendQuery, m.cfg.TrendResults)
	if err != nil {
		return result, fmt.Errorf("trend research: %w", err)
	}

	existing, err := m.deps.Store.RecentTitles(ctx, m.cfg.HistoryTitles)
	if err != nil {
		return result, fmt.Errorf("load topic history: %w", err)
	}

	prompt, err := m.deps.Prompts.Render(prompts.MineTopics, promptData{
		Trends:   trends,
		Popular:  m.seedContext(ctx, logger),
		Existing: existing,
		Count:    m.cfg.TopicsPerRun,
	})
	if err != nil {
		return result, err
	}

	raw, err := m.deps.Generator.Generate(ctx, prompt, m.deps.Profile)
	if err != nil {
		return result, fmt.Errorf("generate topics: %w", err)
	}
	var candidates []Candidate
	if err := llm.DecodeJSON(raw, &candidates); err != nil {
		return result, services.Wrap(services.ErrMalformedOutput, "mining", "decode topics", "model did not return a topic array", err)
	}
	result.Proposed = len(candidates)

	topics, skipped := Normalize(candidates, existing, m.cfg.TopicsPerRun)
	result.Skipped = skipped

	result.VolumeDegraded = m.applyVolumes(ctx, logger, topics)

	for _, topic := range topics {
		if topic.Status == store.StatusRejected {
			result.Rejected++
		} else {
			result.Pending++
		}
	}

	if len(topics) > 0 {
		ids, err := m.deps.Store.InsertMined(ctx, topics)
		if err != nil {
			return result, err
		}
		result.IDs = ids
	}
	m.deps.Metrics.ObserveMined(string(store.StatusPending), result.Pending)
	m.deps.Metrics.ObserveMined(string(store.StatusRejected), result.Rejected)

	logger.Info("topics mined",
		logging.String(logging.FieldEventType, "topics_mined"),
		logging.Int("proposed", result.Proposed),
		logging.Int("stored", result.Stored()),
		logging.Int("pending", result.Pending),
		logging.Int("rejected", result.Rejected),
		logging.Int("skipped", result.Skipped),
		logging.Bool("volume_degraded", result.VolumeDegraded),
	)
	return result, nil
}

// Normalize cleans model candidates into storable topics: empty titles and
// titles already in history (or repeated in the batch, or near-duplicates of
// either) are skipped, keywords are trimmed, scores clamped to 1..10, and at
// most limit topics are kept.
func Normalize(candidates []Candidate, history []string, limit int) ([]store.Topic, int) {
	seen := make(map[string]struct{}, len(history)+len(candidates))
	var prints []*textutil.Fingerprint
	for _, title := range history {
		seen[titleKey(title)] = struct{}{}
		if fp := textutil.NewFingerprint(title); fp != nil {
			prints = append(prints, fp)
		}
	}

	var (
		topics  []store.Topic
		skipped int
	)
	for _, c := range candidates {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			skipped++
			continue
		}
		key := titleKey(title)
		if _, dup := seen[key]; dup {
			skipped++
			continue
		}
		fp := textutil.NewFingerprint(title)
		if nearDuplicate(fp, prints) {
			skipped++
			continue
		}
		if limit > 0 && len(topics) >= limit {
			skipped++
			continue
		}
		seen[key] = struct{}{}
		if fp != nil {
			prints = append(prints, fp)
		}

		keywords := make([]string, 0, len(c.Keywords))
		for _, kw := range c.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		topics = append(topics, store.Topic{
			Title:    title,
			Angle:    strings.TrimSpace(c.Angle),
			Keywords: keywords,
			Score:    clampScore(c.Score),
			Status:   store.StatusPending,
			Source:   store.SourceTrend,
		})
	}
	return topics, skipped
}

// Blend combines the model score with search volume:
// round(0.4*model + 0.6*min(volume/10000, 1)*10).
func Blend(modelScore int, volume int64) int {
	normalized := math.Min(float64(volume)/VolumeSaturation, 1) * 10
	return int(math.Round(0.4*float64(modelScore) + 0.6*normalized))
}

// VolumePhrase is the phrase whose popularity scores a topic: its first
// keyword, or the title when it has none.
func VolumePhrase(topic store.Topic) string {
	for _, kw := range topic.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			return kw
		}
	}
	return strings.TrimSpace(topic.Title)
}

// applyVolumes scores topics by popularity in place. After the first failure
// it stops querying and leaves the remaining topics with model scores. It
// reports whether the signal degraded.
func (m *Miner) applyVolumes(ctx context.Context, logger *slog.Logger, topics []store.Topic) bool {
	if m.deps.Volumes == nil || !m.deps.Volumes.Enabled() {
		return false
	}
	for i := range topics {
		phrase := VolumePhrase(topics[i])
		volume, err := m.deps.Volumes.SearchVolume(ctx, phrase)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return true
			}
			logging.WarnWithContext(logger, "search volume lookup failed", "volume_degraded",
				logging.String(logging.FieldErrorHint, "check wordstat token and quota"),
				logging.String(logging.FieldImpact, "remaining topics keep model scores and pending status"),
				logging.String("phrase", phrase),
				logging.Error(err),
			)
			return true
		}
		v := volume
		topics[i].SearchVolume = &v
		if volume == 0 {
			topics[i].Status = store.StatusRejected
			continue
		}
		topics[i].Score = Blend(topics[i].Score, volume)
	}
	return false
}

// seedContext formats popular requests for the configured seed phrases. Any
// failure yields no context.
func (m *Miner) seedContext(ctx context.Context, logger *slog.Logger) []string {
	if m.deps.Volumes == nil || !m.deps.Volumes.Enabled() || len(m.cfg.SeedPhrases) == 0 {
		return nil
	}
	reports, err := m.deps.Volumes.TopRequests(ctx, m.cfg.SeedPhrases, seedRequestsPerPhrase)
	if err != nil {
		logging.WarnWithContext(logger, "seed phrase lookup failed", "seed_context_degraded",
			logging.String(logging.FieldErrorHint, "check wordstat token and quota"),
			logging.String(logging.FieldImpact, "topics generated without search demand context"),
			logging.Error(err),
		)
		return nil
	}
	return FormatSeedContext(reports)
}

// FormatSeedContext flattens popularity reports into prompt lines.
func FormatSeedContext(reports []wordstat.TopRequests) []string {
	var lines []string
	for _, report := range reports {
		lines = append(lines, fmt.Sprintf("%q: %d searches/month", report.RequestPhrase, report.TotalCount))
		for i, req := range report.TopRequests {
			if i >= seedTopLines {
				break
			}
			lines = append(lines, fmt.Sprintf("  %s: %d", req.Phrase, req.Count))
		}
		for i, assoc := range report.Associations {
			if i >= seedAssociationLines {
				break
			}
			lines = append(lines, fmt.Sprintf("  related %s: %d", assoc.Phrase, assoc.Count))
		}
	}
	return lines
}

func clampScore(score float64) int {
	rounded := int(math.Round(score))
	return max(1, min(10, rounded))
}

func nearDuplicate(fp *textutil.Fingerprint, prints []*textutil.Fingerprint) bool {
	for _, other := range prints {
		if textutil.CosineSimilarity(fp, other) >= NearDuplicateSimilarity {
			return true
		}
	}
	return false
}

func titleKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
