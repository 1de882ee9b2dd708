package research_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quill/internal/research"
	"quill/internal/services"
)

func fixedNow() time.Time {
	return time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
}

func TestSearchBuildsRequestAndMapsResults(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer exa-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"results":[
			{"title":"GPT release","url":"https://a.test/1","text":"` + strings.Repeat("ы", 700) + `"},
			{"title":null,"url":"https://a.test/2","text":"  short\n\nsummary  "}
		]}`))
	}))
	defer srv.Close()

	client := research.NewClient(research.Config{APIKey: "exa-key", BaseURL: srv.URL}, research.WithClock(fixedNow))
	sources, err := client.Search(context.Background(), "нейросети для маркетинга", 6)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if captured["query"] != "нейросети для маркетинга 2026-05-02" {
		t.Fatalf("unexpected query %v", captured["query"])
	}
	if captured["numResults"] != float64(6) || captured["type"] != "auto" || captured["useAutoprompt"] != true {
		t.Fatalf("unexpected payload %v", captured)
	}
	contents := captured["contents"].(map[string]any)["text"].(map[string]any)
	if contents["maxCharacters"] != float64(2000) {
		t.Fatalf("unexpected contents %v", contents)
	}

	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if got := len([]rune(sources[0].Summary)); got != research.SummaryLimit {
		t.Fatalf("expected summary capped at %d runes, got %d", research.SummaryLimit, got)
	}
	if sources[1].Title != "Untitled" || sources[1].Summary != "short summary" {
		t.Fatalf("unexpected second source %+v", sources[1])
	}
}

func TestSearchFailsLoudly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client := research.NewClient(research.Config{APIKey: "k", BaseURL: srv.URL})
	sources, err := client.Search(context.Background(), "topic", 3)
	if err == nil || sources != nil {
		t.Fatalf("expected error and nil sources, got %v %v", sources, err)
	}
	if !errors.Is(err, services.ErrExternalService) || !strings.Contains(err.Error(), "status 402") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSearchRejectsMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	client := research.NewClient(research.Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := client.Search(context.Background(), "topic", 3); !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestSearchRequiresKeyAndQuery(t *testing.T) {
	client := research.NewClient(research.Config{})
	if _, err := client.Search(context.Background(), "topic", 1); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	client = research.NewClient(research.Config{APIKey: "k"})
	if _, err := client.Search(context.Background(), "  ", 1); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchEnrichesEmptySummaries(t *testing.T) {
	paragraph := "Multimodal assistants now read screenshots and spreadsheets, which changes how marketing teams prepare weekly reports and campaign reviews. "
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><head><title>Guide</title></head><body><nav>menu</nav><article><h1>Guide</h1><p>" +
			strings.Repeat(paragraph, 6) + "</p><p>" + strings.Repeat(paragraph, 4) + "</p></article></body></html>"))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"title":"Guide","url":"` + srv.URL + `/page","text":""}]}`))
	})

	client := research.NewClient(research.Config{APIKey: "k", BaseURL: srv.URL, EnrichEmptySummary: true})
	sources, err := client.Search(context.Background(), "assistants", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(sources[0].Summary, "Multimodal assistants now read screenshots") {
		t.Fatalf("expected page text in summary, got %q", sources[0].Summary)
	}
}
