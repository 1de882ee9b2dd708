package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quill/internal/config"
)

const userAgent = "Quill/0.1.0"

// Event names a pipeline milestone operators may want pushed to them.
type Event string

const (
	EventRunCompleted Event = "run_completed"
	EventRunAborted   Event = "run_aborted"
	EventTopicsMined  Event = "topics_mined"
	EventTest         Event = "test"
)

// Payload carries the event fields used to format the message.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRunCompleted: cfg.Notifications.RunCompleted,
			EventRunAborted:   cfg.Notifications.RunAborted,
			EventTopicsMined:  cfg.Notifications.TopicsMined,
			EventTest:         true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
	click    string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventRunCompleted:
		title := payload.str("title")
		body := fmt.Sprintf("📝 Published: %s", title)
		if images := payload.integer("images"); images > 0 {
			body = fmt.Sprintf("%s (%d images)", body, images)
		}
		link := payload.str("url")
		if link != "" {
			body += "\n" + link
		}
		return message{
			title: "Quill - Article Published",
			body:  body,
			tags:  []string{"quill", "publish", "completed"},
			click: link,
		}, true
	case EventRunAborted:
		var b strings.Builder
		b.WriteString("❌ Run aborted")
		if stage := payload.str("stage"); stage != "" {
			b.WriteString(" at ")
			b.WriteString(stage)
		}
		if topic := payload.str("topic"); topic != "" {
			b.WriteString(" (")
			b.WriteString(topic)
			b.WriteString(")")
		}
		b.WriteString(": ")
		if errText := payload.str("error"); errText != "" {
			b.WriteString(errText)
		} else {
			b.WriteString("unknown")
		}
		return message{
			title:    "Quill - Run Aborted",
			body:     b.String(),
			tags:     []string{"quill", "error", "alert"},
			priority: "high",
		}, true
	case EventTopicsMined:
		return message{
			title: "Quill - Topics Mined",
			body:  fmt.Sprintf("💡 %d new topics queued, %d rejected", payload.integer("pending"), payload.integer("rejected")),
			tags:  []string{"quill", "topics", "mined"},
		}, true
	case EventTest:
		return message{
			title:    "Quill - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"quill", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) integer(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	if data.click != "" {
		req.Header.Set("Click", data.click)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
