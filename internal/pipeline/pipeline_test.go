package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"quill/internal/announce"
	"quill/internal/draft"
	"quill/internal/editor"
	"quill/internal/imaging"
	"quill/internal/notifications"
	"quill/internal/publisher"
	"quill/internal/research"
	"quill/internal/services/llm"
	"quill/internal/store"
	"quill/internal/testsupport"
	"quill/internal/textutil"
	"quill/internal/writer"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   map[notifications.Event]notifications.Payload
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	if n.last == nil {
		n.last = make(map[notifications.Event]notifications.Payload)
	}
	n.last[event] = payload
	return nil
}

func (n *recordingNotifier) payload(event notifications.Event) (notifications.Payload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.last[event]
	return p, ok
}

type harness struct {
	store    *store.Store
	llm      *testsupport.ScriptedGenerator
	search   *testsupport.FakeSearcher
	images   *testsupport.FakeImages
	uploader *testsupport.MemoryUploader
	channel  *testsupport.RecordingChannel
	notifier *recordingNotifier

	// draftBody is returned for the drafting prompt.
	draftBody string
	// shortTitle answers the title shortening prompt.
	shortTitle string
	// failEdit makes every editing pass fail.
	failEdit bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := &harness{
		store:     testsupport.MustOpenStore(t, cfg),
		search:    &testsupport.FakeSearcher{Sources: []research.Source{{Title: "Обзор", URL: "https://example.com/a", Summary: "Свежие данные."}}},
		images:    &testsupport.FakeImages{},
		uploader:  &testsupport.MemoryUploader{},
		channel:   &testsupport.RecordingChannel{},
		notifier:  &recordingNotifier{},
		draftBody: "Вступление.\n\n## Раздел\n\nТекст раздела.",
	}
	h.llm = &testsupport.ScriptedGenerator{Respond: h.respond}
	return h
}

func (h *harness) respond(call testsupport.GeneratorCall) (string, error) {
	prompt := call.Prompt
	switch {
	case strings.Contains(prompt, "--- ARTICLE ---"):
		if h.failEdit {
			return "", errors.New("model unavailable")
		}
		return articleOf(prompt), nil
	case strings.Contains(prompt, "Keywords to weave in naturally"):
		return h.draftBody, nil
	case strings.Contains(prompt, "Shorten this article title"):
		return h.shortTitle, nil
	case strings.Contains(prompt, "SEO meta description"):
		return "Краткое описание статьи для поисковой выдачи.", nil
	case strings.Contains(prompt, "Telegram channel post"):
		return "Коротко о главном.", nil
	}
	return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
}

func articleOf(prompt string) string {
	const start, end = "--- ARTICLE ---\n", "\n--- END OF ARTICLE ---"
	i := strings.Index(prompt, start)
	j := strings.Index(prompt, end)
	if i < 0 || j < i {
		return ""
	}
	return prompt[i+len(start) : j]
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	catalog := testsupport.MustCatalog(t)
	creative := llm.Profile{Name: "creative", Model: "test"}
	fast := llm.Profile{Name: "fast", Model: "test"}
	p := New(Config{BlogURL: "https://blog.test"}, Deps{
		Topics:     h.store,
		Researcher: h.search,
		Writer:     writer.New(h.llm, creative, catalog, "https://app.test", nil),
		Editor:     editor.New(h.llm, fast, catalog),
		Images: imaging.New(h.images, h.uploader, catalog, imaging.Config{MaxImages: 3, Delay: time.Millisecond},
			imaging.WithSleeper(func(context.Context, time.Duration) error { return nil })),
		Publisher: publisher.New(publisher.Config{CTABaseURL: "https://app.test"}, h.llm, fast, catalog, h.store,
			publisher.WithClock(func() time.Time { return testsupport.FixedNow })),
		Announcer: announce.New(announce.Config{BlogURL: "https://blog.test"}, h.store, h.channel, h.llm, fast, catalog),
		Notifier:  h.notifier,
	})
	p.newRunID = func() string { return "run-test" }
	return p
}

func placeholders(n int) string {
	var b strings.Builder
	b.WriteString("Вступление.\n\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "## Раздел %d\n\n%s\n\nТекст раздела %d.\n\n", i, draft.Format(fmt.Sprintf("картинка %d", i)), i)
	}
	return strings.TrimSpace(b.String())
}

func mustArticle(t *testing.T, st *store.Store, slug string) *store.Article {
	t.Helper()
	article, err := st.GetArticle(context.Background(), slug)
	if err != nil {
		t.Fatalf("get article %q: %v", slug, err)
	}
	return article
}

func TestRunPublishesWithoutPlaceholders(t *testing.T) {
	h := newHarness(t)
	id := testsupport.SeedTopic(t, h.store, "Нейросети для маркетолога", 9, "нейросети")

	result, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomePublished || result.State != StateDone {
		t.Fatalf("outcome = %s/%s, want published/done", result.Outcome, result.State)
	}
	want := []State{StateSelecting, StateResearching, StateDrafting, StateEditing, StateImaging, StatePublishing, StateAnnouncing, StateDone}
	if strings.Join(stateNames(result.Path), ",") != strings.Join(stateNames(want), ",") {
		t.Fatalf("path = %v, want %v", result.Path, want)
	}
	if result.RunID != "run-test" || result.TopicID != id {
		t.Fatalf("unexpected run identity: %+v", result)
	}

	article := mustArticle(t, h.store, result.Slug)
	if article.HasCover() {
		t.Fatalf("cover = %q, want none", article.CoverImage)
	}
	if article.Title != "Нейросети для маркетолога" {
		t.Fatalf("title = %q", article.Title)
	}
	if !article.TelegramSent {
		t.Fatal("expected announcement to be recorded")
	}
	if topic := testsupport.MustTopic(t, h.store, id); topic.Status != store.StatusUsed || topic.UsedAt == nil {
		t.Fatalf("topic status = %s used_at=%v, want used", topic.Status, topic.UsedAt)
	}
	if got := h.search.Queries(); len(got) != 1 || got[0] != "Нейросети для маркетолога нейросети" {
		t.Fatalf("research queries = %q", got)
	}
	if len(h.channel.Messages()) != 1 {
		t.Fatalf("expected one announcement, got %d", len(h.channel.Messages()))
	}
	payload, ok := h.notifier.payload(notifications.EventRunCompleted)
	if !ok || payload["url"] != "https://blog.test/blog/"+result.Slug {
		t.Fatalf("completion payload = %v", payload)
	}
}

func TestRunCapsImagesAndUsesFirstAsCover(t *testing.T) {
	h := newHarness(t)
	h.draftBody = placeholders(4)
	id := testsupport.SeedTopic(t, h.store, "Картинки в статьях", 8)

	result, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ImagesGenerated != 3 || result.ImagesFailed != 0 {
		t.Fatalf("images = %d/%d, want 3/0", result.ImagesGenerated, result.ImagesFailed)
	}
	if len(h.images.Prompts()) != 3 {
		t.Fatalf("generated %d images, want 3", len(h.images.Prompts()))
	}

	article := mustArticle(t, h.store, result.Slug)
	if draft.HasPlaceholders(article.ContentMD) {
		t.Fatalf("raw placeholder left in content:\n%s", article.ContentMD)
	}
	if strings.Contains(article.ContentMD, "картинка 4") {
		t.Fatalf("capped placeholder should be stripped:\n%s", article.ContentMD)
	}
	if got := strings.Count(article.ContentMD, "https://cdn.test/"); got != 3 {
		t.Fatalf("image references = %d, want 3", got)
	}
	paths := h.uploader.Paths()
	if article.CoverImage != "https://cdn.test/"+paths[0] {
		t.Fatalf("cover = %q, want first upload %q", article.CoverImage, paths[0])
	}
	key := ArticleKey(store.Topic{ID: id, Title: "Картинки в статьях"})
	if !strings.HasPrefix(paths[0], "blog-images/"+key+"/") {
		t.Fatalf("upload path %q not under article key %q", paths[0], key)
	}
}

func TestRunContinuesPastFailedImage(t *testing.T) {
	h := newHarness(t)
	h.draftBody = placeholders(3)
	h.images.FailOn = map[int]bool{2: true}
	id := testsupport.SeedTopic(t, h.store, "Ошибки генерации", 7)

	result, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateDone {
		t.Fatalf("state = %s, want done", result.State)
	}
	if result.ImagesGenerated != 2 || result.ImagesFailed != 1 {
		t.Fatalf("images = %d/%d, want 2/1", result.ImagesGenerated, result.ImagesFailed)
	}
	article := mustArticle(t, h.store, result.Slug)
	if strings.Contains(article.ContentMD, "картинка 2") || draft.HasPlaceholders(article.ContentMD) {
		t.Fatalf("failed item should be removed:\n%s", article.ContentMD)
	}
	for _, desc := range []string{"картинка 1", "картинка 3"} {
		if !strings.Contains(article.ContentMD, desc) {
			t.Fatalf("expected %q to resolve:\n%s", desc, article.ContentMD)
		}
	}
	if !strings.HasSuffix(article.CoverImage, "/img-1.png") {
		t.Fatalf("cover = %q, want first image", article.CoverImage)
	}
	if topic := testsupport.MustTopic(t, h.store, id); topic.Status != store.StatusUsed {
		t.Fatalf("topic status = %s", topic.Status)
	}
}

func TestRunWithoutPendingTopicsIsNoWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := testsupport.SeedTopic(t, h.store, "Отклонённая тема", 5)
	if err := h.store.Reject(ctx, id); err != nil {
		t.Fatalf("reject: %v", err)
	}

	result, err := h.pipeline(t).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomeNoWork || result.State != StateDone || len(result.Path) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if n, _ := h.store.ArticleCount(ctx); n != 0 {
		t.Fatalf("articles = %d, want 0", n)
	}
	if topic := testsupport.MustTopic(t, h.store, id); topic.Status != store.StatusRejected {
		t.Fatalf("topic mutated to %s", topic.Status)
	}
	if len(h.llm.Calls()) != 0 || len(h.search.Queries()) != 0 {
		t.Fatal("no collaborator should be called without work")
	}
}

func TestRunTruncatesLongTitle(t *testing.T) {
	h := newHarness(t)
	long := "Как выбрать нейросеть для маркетинга и не потерять бюджет в 2025 году"
	if textutil.RuneLen(long) <= 55 {
		t.Fatalf("fixture title too short: %d", textutil.RuneLen(long))
	}
	h.shortTitle = "Как выбрать нейросеть для маркетинга и сохранить бюджет в этом году"
	testsupport.SeedTopic(t, h.store, long, 9)

	result, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	article := mustArticle(t, h.store, result.Slug)
	if textutil.RuneLen(article.Title) != 55 || !strings.HasSuffix(article.Title, publisher.TruncationMarker) {
		t.Fatalf("title = %q (%d runes), want 55 ending in marker", article.Title, textutil.RuneLen(article.Title))
	}
	if h.llm.CallsContaining("Shorten this article title") != 1 {
		t.Fatal("expected one shortening call")
	}
}

func TestRunAbortsOnEditFailure(t *testing.T) {
	h := newHarness(t)
	h.failEdit = true
	id := testsupport.SeedTopic(t, h.store, "Тема для правки", 6)

	result, err := h.pipeline(t).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Outcome != OutcomeAborted || result.State != StateAborted {
		t.Fatalf("outcome = %s/%s", result.Outcome, result.State)
	}
	if result.Path[len(result.Path)-2] != StateEditing {
		t.Fatalf("path = %v, want abort from editing", result.Path)
	}
	if topic := testsupport.MustTopic(t, h.store, id); topic.Status != store.StatusWriting {
		t.Fatalf("topic status = %s, want writing", topic.Status)
	}
	if n, _ := h.store.ArticleCount(context.Background()); n != 0 {
		t.Fatalf("articles = %d, want 0", n)
	}
	payload, ok := h.notifier.payload(notifications.EventRunAborted)
	if !ok || payload["stage"] != string(StateEditing) {
		t.Fatalf("abort payload = %v", payload)
	}
}

func TestRunAbortsOnResearchFailure(t *testing.T) {
	h := newHarness(t)
	h.search.Err = errors.New("search down")
	id := testsupport.SeedTopic(t, h.store, "Тема без источников", 6)

	result, err := h.pipeline(t).Run(context.Background())
	if err == nil || result.State != StateAborted {
		t.Fatalf("expected abort, got %+v err=%v", result, err)
	}
	if len(h.llm.Calls()) != 0 {
		t.Fatal("drafting must not start after failed research")
	}
	if topic := testsupport.MustTopic(t, h.store, id); topic.Status != store.StatusWriting {
		t.Fatalf("topic status = %s, want writing", topic.Status)
	}
}

func TestRunDegradesOnAnnouncementFailure(t *testing.T) {
	h := newHarness(t)
	h.channel.Err = errors.New("channel unavailable")
	testsupport.SeedTopic(t, h.store, "Анонсы", 6)

	result, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomePublished || len(result.Degraded) != 1 || result.Degraded[0] != StateAnnouncing {
		t.Fatalf("unexpected result: %+v", result)
	}
	if article := mustArticle(t, h.store, result.Slug); article.TelegramSent {
		t.Fatal("failed announcement must not be flagged as sent")
	}
}

func TestConcurrentRunsClaimOneTopicOnce(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedTopic(t, h.store, "Единственная тема", 9)
	p := h.pipeline(t)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Run(context.Background())
		}(i)
	}
	wg.Wait()

	published, idle := 0, 0
	for i, r := range results {
		if errs[i] != nil {
			t.Fatalf("run %d: %v", i, errs[i])
		}
		switch r.Outcome {
		case OutcomePublished:
			published++
		case OutcomeNoWork:
			idle++
		}
	}
	if published != 1 || idle != 1 {
		t.Fatalf("published=%d no_work=%d, want 1/1", published, idle)
	}
	if n, _ := h.store.ArticleCount(context.Background()); n != 1 {
		t.Fatalf("articles = %d, want 1", n)
	}
}

func TestArticleKey(t *testing.T) {
	if got := ArticleKey(store.Topic{ID: 3, Title: "Тест — Статья!!"}); got != "3-test-statya" {
		t.Fatalf("ArticleKey = %q", got)
	}
	if got := ArticleKey(store.Topic{ID: 3, Title: "!!!"}); got != "post-3" {
		t.Fatalf("ArticleKey fallback = %q", got)
	}
}

func TestSameTitledArticlesKeepSeparateImages(t *testing.T) {
	h := newHarness(t)
	h.draftBody = placeholders(1)
	testsupport.SeedTopic(t, h.store, "Одинаковая тема", 9)
	testsupport.SeedTopic(t, h.store, "Одинаковая тема", 8)
	p := h.pipeline(t)

	var slugs, covers []string
	for range 2 {
		result, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		article := mustArticle(t, h.store, result.Slug)
		slugs = append(slugs, article.Slug)
		covers = append(covers, article.CoverImage)
	}
	if slugs[0] == slugs[1] {
		t.Fatalf("slugs collide: %v", slugs)
	}
	if covers[0] == "" || covers[0] == covers[1] {
		t.Fatalf("covers must differ: %v", covers)
	}
	paths := h.uploader.Paths()
	if len(paths) != 2 || paths[0] == paths[1] {
		t.Fatalf("upload paths = %v, want two distinct", paths)
	}
}

func stateNames(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
