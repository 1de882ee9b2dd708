package miner_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"quill/internal/miner"
	"quill/internal/research"
	"quill/internal/services"
	"quill/internal/services/wordstat"
	"quill/internal/store"
	"quill/internal/testsupport"
)

type fakeVolumes struct {
	enabled bool
	volumes map[string]int64
	failOn  string
	lookups []string
	top     []wordstat.TopRequests
	topErr  error
}

func (f *fakeVolumes) Enabled() bool { return f.enabled }

func (f *fakeVolumes) SearchVolume(_ context.Context, phrase string) (int64, error) {
	f.lookups = append(f.lookups, phrase)
	if phrase == f.failOn {
		return 0, errors.New("quota exceeded")
	}
	return f.volumes[phrase], nil
}

func (f *fakeVolumes) TopRequests(context.Context, []string, int) ([]wordstat.TopRequests, error) {
	return f.top, f.topErr
}

type memoryStore struct {
	history  []string
	inserted []store.Topic
}

func (m *memoryStore) RecentTitles(context.Context, int) ([]string, error) {
	return m.history, nil
}

func (m *memoryStore) InsertMined(_ context.Context, topics []store.Topic) ([]int64, error) {
	ids := make([]int64, len(topics))
	for i, topic := range topics {
		m.inserted = append(m.inserted, topic)
		ids[i] = int64(len(m.inserted))
	}
	return ids, nil
}

func newMiner(t *testing.T, gen *testsupport.ScriptedGenerator, vols miner.Volumes, st miner.Store, cfg miner.Config) *miner.Miner {
	t.Helper()
	return miner.New(cfg, miner.Deps{
		Searcher:  &testsupport.FakeSearcher{Sources: []research.Source{{Title: "Trend", URL: "https://news.test/1", Summary: "models got cheaper"}}},
		Generator: gen,
		Volumes:   vols,
		Store:     st,
		Prompts:   testsupport.MustCatalog(t),
	})
}

func TestBlend(t *testing.T) {
	cases := []struct {
		model  int
		volume int64
		want   int
	}{
		{model: 5, volume: 0, want: 2},
		{model: 5, volume: 5000, want: 5},
		{model: 8, volume: 10000, want: 9},
		{model: 8, volume: 250000, want: 9},
		{model: 1, volume: 100, want: 0},
	}
	for _, tc := range cases {
		if got := miner.Blend(tc.model, tc.volume); got != tc.want {
			t.Errorf("Blend(%d, %d) = %d, want %d", tc.model, tc.volume, got, tc.want)
		}
	}
}

func TestNormalizeSkipsDuplicatesAndClamps(t *testing.T) {
	candidates := []miner.Candidate{
		{Title: "  ChatGPT для копирайтера ", Keywords: []string{" chatgpt ", ""}, Score: 14},
		{Title: "chatgpt   для КОПИРАЙТЕРА", Score: 5},
		{Title: "Old topic", Score: 5},
		{Title: "", Score: 5},
		{Title: "Нейросети для SMM", Score: -2},
		{Title: "Overflow", Score: 5},
	}
	topics, skipped := miner.Normalize(candidates, []string{"old TOPIC"}, 2)
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if skipped != 4 {
		t.Fatalf("expected 4 skipped, got %d", skipped)
	}
	first := topics[0]
	if first.Title != "ChatGPT для копирайтера" || first.Score != 10 {
		t.Fatalf("unexpected first topic %+v", first)
	}
	if len(first.Keywords) != 1 || first.Keywords[0] != "chatgpt" {
		t.Fatalf("unexpected keywords %q", first.Keywords)
	}
	if topics[1].Score != 1 {
		t.Fatalf("expected score clamped to 1, got %d", topics[1].Score)
	}
	if first.Status != store.StatusPending || first.Source != store.SourceTrend {
		t.Fatalf("unexpected status/source %s/%s", first.Status, first.Source)
	}
}

func TestVolumePhrase(t *testing.T) {
	if got := miner.VolumePhrase(store.Topic{Title: "Title", Keywords: []string{" ", "first"}}); got != "first" {
		t.Fatalf("VolumePhrase = %q", got)
	}
	if got := miner.VolumePhrase(store.Topic{Title: " Title "}); got != "Title" {
		t.Fatalf("VolumePhrase without keywords = %q", got)
	}
}

func TestMineScoresAndRejectsByVolume(t *testing.T) {
	gen := testsupport.NewScriptedGenerator("```json\n" + `[
		{"title": "Popular", "angle": "a", "keywords": ["popular kw"], "score": 6},
		{"title": "Nobody searches", "angle": "b", "keywords": ["dead kw"], "score": 9}
	]` + "\n```")
	vols := &fakeVolumes{enabled: true, volumes: map[string]int64{"popular kw": 20000}}
	st := &memoryStore{}

	result, err := newMiner(t, gen, vols, st, miner.Config{TopicsPerRun: 5}).Mine(context.Background())
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if result.Proposed != 2 || result.Stored() != 2 || result.Pending != 1 || result.Rejected != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.VolumeDegraded {
		t.Fatal("did not expect degradation")
	}
	popular, dead := st.inserted[0], st.inserted[1]
	if popular.Score != miner.Blend(6, 20000) || popular.Status != store.StatusPending {
		t.Fatalf("unexpected popular topic %+v", popular)
	}
	if popular.SearchVolume == nil || *popular.SearchVolume != 20000 {
		t.Fatalf("expected volume recorded, got %v", popular.SearchVolume)
	}
	if dead.Status != store.StatusRejected || dead.Score != 9 {
		t.Fatalf("unexpected rejected topic %+v", dead)
	}
}

func TestMineDegradesAfterFirstVolumeFailure(t *testing.T) {
	gen := testsupport.NewScriptedGenerator(`[
		{"title": "One", "keywords": ["one"], "score": 4},
		{"title": "Two", "keywords": ["two"], "score": 7},
		{"title": "Three", "keywords": ["three"], "score": 8}
	]`)
	vols := &fakeVolumes{enabled: true, volumes: map[string]int64{"one": 10000, "three": 10000}, failOn: "two"}
	st := &memoryStore{}

	result, err := newMiner(t, gen, vols, st, miner.Config{}).Mine(context.Background())
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if !result.VolumeDegraded {
		t.Fatal("expected degradation")
	}
	if len(vols.lookups) != 2 {
		t.Fatalf("expected lookups to stop after failure, got %q", vols.lookups)
	}
	if st.inserted[0].Score != miner.Blend(4, 10000) {
		t.Fatalf("first topic should be blended, got %d", st.inserted[0].Score)
	}
	for _, topic := range st.inserted[1:] {
		if topic.Status != store.StatusPending || topic.SearchVolume != nil {
			t.Fatalf("degraded topic should keep model score and pending: %+v", topic)
		}
	}
	if st.inserted[2].Score != 8 {
		t.Fatalf("expected model score 8, got %d", st.inserted[2].Score)
	}
}

func TestMineMalformedOutput(t *testing.T) {
	gen := testsupport.NewScriptedGenerator("I cannot help with that.")
	st := &memoryStore{}

	_, err := newMiner(t, gen, nil, st, miner.Config{}).Mine(context.Background())
	if !errors.Is(err, services.ErrMalformedOutput) {
		t.Fatalf("expected malformed output error, got %v", err)
	}
	if len(st.inserted) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(st.inserted))
	}
}

func TestMineResearchFailureIsFatal(t *testing.T) {
	gen := testsupport.NewScriptedGenerator()
	m := miner.New(miner.Config{}, miner.Deps{
		Searcher:  &testsupport.FakeSearcher{Err: errors.New("search down")},
		Generator: gen,
		Store:     &memoryStore{},
		Prompts:   testsupport.MustCatalog(t),
	})
	if _, err := m.Mine(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(gen.Calls()) != 0 {
		t.Fatal("generator should not be called")
	}
}

func TestMinePromptCarriesHistoryAndSeedContext(t *testing.T) {
	gen := testsupport.NewScriptedGenerator(`[]`)
	vols := &fakeVolumes{
		enabled: true,
		top: []wordstat.TopRequests{{
			RequestPhrase: "нейросеть",
			TotalCount:    120000,
			TopRequests:   []wordstat.Phrase{{Phrase: "нейросеть онлайн", Count: 40000}},
		}},
	}
	st := &memoryStore{history: []string{"Уже написанная статья"}}

	_, err := newMiner(t, gen, vols, st, miner.Config{SeedPhrases: []string{"нейросеть"}}).Mine(context.Background())
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	prompt := gen.Calls()[0].Prompt
	for _, want := range []string{"Уже написанная статья", "нейросеть онлайн: 40000", "models got cheaper", "2025-03-14"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestMineSeedFailureDegrades(t *testing.T) {
	gen := testsupport.NewScriptedGenerator(`[{"title": "Solo", "score": 5}]`)
	vols := &fakeVolumes{enabled: true, topErr: errors.New("boom"), volumes: map[string]int64{"Solo": 100}}
	st := &memoryStore{}

	result, err := newMiner(t, gen, vols, st, miner.Config{SeedPhrases: []string{"seed"}}).Mine(context.Background())
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if result.Pending != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestNormalizeSkipsNearDuplicates(t *testing.T) {
	candidates := []miner.Candidate{
		{Title: "Как писать промпты для ChatGPT: гайд", Score: 7},
		{Title: "Как писать промпты для Claude", Score: 7},
	}
	topics, skipped := miner.Normalize(candidates, []string{"Гайд: как писать промпты для ChatGPT"}, 10)
	if skipped != 1 || len(topics) != 1 {
		t.Fatalf("expected one near-duplicate skipped, got %d topics, %d skipped", len(topics), skipped)
	}
	if topics[0].Title != "Как писать промпты для Claude" {
		t.Fatalf("unexpected survivor %q", topics[0].Title)
	}
}
