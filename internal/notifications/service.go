package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyloom/internal/config"
)

const userAgent = "storyloom/0.1.0"

// Event names a pipeline milestone that can be published.
type Event string

const (
	EventBookIngested   Event = "book_ingested"
	EventBookReady      Event = "book_ready"
	EventSequenceFailed Event = "sequence_failed"
	EventSweepCompleted Event = "sweep_completed"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a noop one when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:         topic,
		client:           &http.Client{Timeout: timeout},
		sequenceFailures: cfg.Notifications.SequenceFailures,
	}
}

// Noop returns a service that drops every event.
func Noop() Service {
	return noopService{}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint         string
	client           *http.Client
	sequenceFailures bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventBookIngested:
		return message{
			title: "storyloom - Book Ingested",
			body:  fmt.Sprintf("📚 Ingested: %s (%d sequences)", describeBook(payload), payload.number("sequences")),
			tags:  []string{"storyloom", "ingest"},
		}, true
	case EventBookReady:
		return message{
			title:    "storyloom - Book Ready",
			body:     fmt.Sprintf("✅ Ready: %s (%d/%d sequences completed)", describeBook(payload), payload.number("completed"), payload.number("total")),
			tags:     []string{"storyloom", "book", "ready"},
			priority: "high",
		}, true
	case EventSequenceFailed:
		if !n.sequenceFailures {
			return message{}, false
		}
		body := fmt.Sprintf("❌ Sequence %d of %s failed", payload.number("sequence"), describeBook(payload))
		if reason := payload.text("reason"); reason != "" {
			body += ": " + reason
		}
		return message{
			title: "storyloom - Sequence Failed",
			body:  body,
			tags:  []string{"storyloom", "sequence", "failed"},
		}, true
	case EventSweepCompleted:
		stale, purged := payload.number("stale"), payload.number("purged")
		if stale == 0 && purged == 0 {
			return message{}, false
		}
		return message{
			title: "storyloom - Sweep",
			body:  fmt.Sprintf("🧹 Sweep failed %d stale sequences and purged %d", stale, purged),
			tags:  []string{"storyloom", "sweep"},
		}, true
	case EventTest:
		return message{
			title:    "storyloom - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"storyloom", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func describeBook(payload Payload) string {
	title := payload.text("title")
	if title == "" {
		return fmt.Sprintf("book %d", payload.number("book_id"))
	}
	return title
}

func (p Payload) text(key string) string {
	if v, ok := p[key]; ok && v != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

func (p Payload) number(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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
