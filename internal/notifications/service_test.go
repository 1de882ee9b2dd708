package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"quill/internal/config"
	"quill/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventRunCompleted, notifications.Payload{"title": "Example"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
		expectClick    string
	}{
		{
			name:  "run completed",
			event: notifications.EventRunCompleted,
			payload: notifications.Payload{
				"title":  "Как выбрать нейросеть",
				"images": 2,
				"url":    "https://sabka.pro/blog/kak-vybrat-neyroset",
			},
			expectTitle:   "Quill - Article Published",
			expectMessage: "📝 Published: Как выбрать нейросеть (2 images)\nhttps://sabka.pro/blog/kak-vybrat-neyroset",
			expectTags:    "quill,publish,completed",
			expectClick:   "https://sabka.pro/blog/kak-vybrat-neyroset",
		},
		{
			name:  "run aborted",
			event: notifications.EventRunAborted,
			payload: notifications.Payload{
				"stage": "researching",
				"topic": "AI agents",
				"error": errors.New("exa search: status 500"),
			},
			expectTitle:    "Quill - Run Aborted",
			expectMessage:  "❌ Run aborted at researching (AI agents): exa search: status 500",
			expectTags:     "quill,error,alert",
			expectPriority: "high",
		},
		{
			name:          "topics mined",
			event:         notifications.EventTopicsMined,
			payload:       notifications.Payload{"pending": 8, "rejected": 2},
			expectTitle:   "Quill - Topics Mined",
			expectMessage: "💡 8 new topics queued, 2 rejected",
			expectTags:    "quill,topics,mined",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Quill - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "quill,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				click    string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				captured.click = r.Header.Get("Click")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
			if captured.click != tc.expectClick {
				t.Fatalf("expected click %q, got %q", tc.expectClick, captured.click)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RunCompleted = false
	cfg.Notifications.TopicsMined = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{notifications.EventRunCompleted, notifications.EventTopicsMined, "unknown"} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
