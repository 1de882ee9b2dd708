package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quill/internal/config"
	"quill/internal/metrics"
	"quill/internal/miner"
	"quill/internal/pipeline"
	"quill/internal/store"
	"quill/internal/testsupport"
)

type runnerStub struct {
	result pipeline.Result
	err    error
}

func (r runnerStub) Run(context.Context) (pipeline.Result, error) {
	return r.result, r.err
}

type minerStub struct{}

func (minerStub) Mine(context.Context) (miner.Result, error) {
	return miner.Result{Proposed: 3, Pending: 2, Rejected: 1, IDs: []int64{1, 2, 3}}, nil
}

type apiFixture struct {
	handler http.Handler
	store   *store.Store
}

func newAPIFixture(t *testing.T, runner Runner, opts ...testsupport.ConfigOption) apiFixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{
		testsupport.WithBlogURL("https://example.test"),
		testsupport.WithConfig(func(cfg *config.Config) { cfg.Schedule.Enabled = false }),
	}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	d, err := New(cfg, Deps{Runner: runner, Miner: minerStub{}, Store: st, Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return apiFixture{handler: d.api.routes(), store: st}
}

func (f apiFixture) do(t *testing.T, method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestTriggerSecret(t *testing.T) {
	noWork := runnerStub{result: pipeline.Result{RunID: "r1", Outcome: pipeline.OutcomeNoWork}}

	t.Run("disabled without configured secret", func(t *testing.T) {
		f := newAPIFixture(t, noWork)
		w := f.do(t, http.MethodPost, "/api/generate", "", nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d", w.Code)
		}
	})

	f := newAPIFixture(t, noWork, testsupport.WithTriggerSecret("s3cret"))
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{name: "missing", target: "/api/generate", want: http.StatusUnauthorized},
		{name: "wrong bearer", target: "/api/generate", header: map[string]string{"Authorization": "Bearer nope"}, want: http.StatusUnauthorized},
		{name: "bearer", target: "/api/generate", header: map[string]string{"Authorization": "Bearer s3cret"}, want: http.StatusOK},
		{name: "query", target: "/api/generate?secret=s3cret", want: http.StatusOK},
		{name: "mine bearer", target: "/api/mine-topics", header: map[string]string{"Authorization": "Bearer s3cret"}, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tc.target, "", tc.header)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestGenerateEndpoint(t *testing.T) {
	auth := map[string]string{"Authorization": "Bearer s3cret"}
	secret := testsupport.WithTriggerSecret("s3cret")

	t.Run("no work", func(t *testing.T) {
		f := newAPIFixture(t, runnerStub{result: pipeline.Result{RunID: "r1", Outcome: pipeline.OutcomeNoWork}}, secret)
		resp := decode[generateResponse](t, f.do(t, http.MethodGet, "/api/generate", "", auth))
		if !resp.Success || resp.Message != "No pending topics" || resp.URL != "" {
			t.Fatalf("response = %+v", resp)
		}
	})

	t.Run("published", func(t *testing.T) {
		f := newAPIFixture(t, runnerStub{result: pipeline.Result{
			RunID:           "r2",
			Outcome:         pipeline.OutcomePublished,
			Slug:            "kak-vybrat-noutbuk",
			Title:           "Как выбрать ноутбук",
			ImagesGenerated: 2,
		}}, secret)
		resp := decode[generateResponse](t, f.do(t, http.MethodPost, "/api/generate", "", auth))
		if resp.URL != "https://example.test/blog/kak-vybrat-noutbuk" || resp.ImagesGenerated != 2 || resp.Outcome != "published" {
			t.Fatalf("response = %+v", resp)
		}
	})

	t.Run("aborted", func(t *testing.T) {
		f := newAPIFixture(t, runnerStub{err: errors.New("editing: upstream down")}, secret)
		w := f.do(t, http.MethodPost, "/api/generate", "", auth)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", w.Code)
		}
		if resp := decode[errorBody](t, w); !strings.Contains(resp.Error, "upstream down") {
			t.Fatalf("error = %q", resp.Error)
		}
	})
}

func TestMineEndpoint(t *testing.T) {
	f := newAPIFixture(t, runnerStub{}, testsupport.WithTriggerSecret("s3cret"))
	w := f.do(t, http.MethodGet, "/api/mine-topics?secret=s3cret", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", w.Code)
	}
	resp := decode[mineResponse](t, f.do(t, http.MethodPost, "/api/mine-topics?secret=s3cret", "", nil))
	if resp.Stored != 3 || resp.Pending != 2 || resp.Rejected != 1 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestViewsEndpoint(t *testing.T) {
	f := newAPIFixture(t, runnerStub{})
	if _, err := f.store.InsertPublished(context.Background(), store.Article{Slug: "post", Title: "Пост"}, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if w := f.do(t, http.MethodPost, "/api/views", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing slug status = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/views", `{"slug":"absent"}`, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown slug status = %d", w.Code)
	}
	for range 2 {
		if w := f.do(t, http.MethodPost, "/api/views", `{"slug":"post"}`, nil); w.Code != http.StatusOK {
			t.Fatalf("view status = %d", w.Code)
		}
	}
	article, err := f.store.GetArticle(context.Background(), "post")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if article.Views != 2 {
		t.Fatalf("views = %d", article.Views)
	}
}

func TestFeedAndSitemap(t *testing.T) {
	f := newAPIFixture(t, runnerStub{})
	if _, err := f.store.InsertPublished(context.Background(), store.Article{
		Slug:            "pervyi-post",
		Title:           "Первый пост",
		MetaDescription: "Описание",
	}, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	w := f.do(t, http.MethodGet, "/blog/feed.xml", "", nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "application/rss+xml") {
		t.Fatalf("feed status=%d type=%q", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "https://example.test/blog/pervyi-post") {
		t.Fatalf("feed body missing article: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/blog/sitemap.xml", "", nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "application/xml") {
		t.Fatalf("sitemap status=%d type=%q", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "<loc>https://example.test/blog</loc>") {
		t.Fatalf("sitemap body: %s", w.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t, runnerStub{})
	w := f.do(t, http.MethodGet, "/api/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	status := decode[Status](t, w)
	if status.Running || status.PID == 0 {
		t.Fatalf("status = %+v", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, runnerStub{})
	w := f.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
