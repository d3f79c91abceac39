package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon starting")

	content, err := os.ReadFile(cfg.LogPath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "daemon starting") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOrdersSequenceFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "pipeline")
	logger.Info("artifact stored",
		logging.String("url", "file:///tmp/a b.mp3"),
		logging.Int64(logging.FieldSequenceID, 7),
		logging.Int64(logging.FieldBookID, 3),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "INFO pipeline: artifact stored") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	book := strings.Index(line, "book_id=3")
	seq := strings.Index(line, "sequence_id=7")
	url := strings.Index(line, "url=")
	if book < 0 || seq < 0 || url < 0 || !(book < seq && seq < url) {
		t.Fatalf("expected book_id, sequence_id, then url; got %q", line)
	}
	if !strings.Contains(line, `url="file:///tmp/a b.mp3"`) {
		t.Fatalf("expected quoted value, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithBookID(context.Background(), 11)
	ctx = services.WithSequenceID(ctx, 42)
	ctx = services.WithJobKind(ctx, "audio-generation")
	ctx = services.WithRequestID(ctx, "req-1")
	logging.WithContext(ctx, logger).Info("job done")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode json line %q: %v", content, err)
	}
	if payload["level"] != "info" || payload["msg"] != "job done" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload[logging.FieldBookID] != float64(11) || payload[logging.FieldSequenceID] != float64(42) {
		t.Fatalf("missing ids: %v", payload)
	}
	if payload[logging.FieldJobKind] != "audio-generation" || payload[logging.FieldCorrelationID] != "req-1" {
		t.Fatalf("missing job fields: %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestErrorWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "err.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.ErrorWithContext(logger, "narration failed", "audio_generation_failed")
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "event_type=audio_generation_failed") || !strings.Contains(line, "error_hint=") {
		t.Fatalf("expected injected fields, got %q", line)
	}
}
