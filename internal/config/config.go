package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	APIBind     string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on API requests.
	APIToken string `toml:"api_token"`
}

// Source selects where raw book text is fetched from.
type Source struct {
	// Kind is "http" (catalog URL template) or "dir" (local <id>.txt files).
	Kind           string `toml:"kind"`
	URLTemplate    string `toml:"url_template"`
	Dir            string `toml:"dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// Pipeline contains ingestion and windowing settings.
type Pipeline struct {
	WordsPerSequence int `toml:"words_per_sequence"`
	// InitialBatch limits how many sequences are enqueued at ingest. Zero enqueues all.
	InitialBatch int `toml:"initial_batch"`
	// AutoTopUp admits the next window each time a sequence settles, keeping
	// about InitialBatch sequences in flight per book.
	AutoTopUp   bool   `toml:"auto_top_up"`
	ImageStyle  string `toml:"image_style"`
	ScenePrompt string `toml:"scene_prompt"`
}

// Workers configures per-kind pool concurrency.
type Workers struct {
	SequenceProcessing int `toml:"sequence_processing"`
	AudioGeneration    int `toml:"audio_generation"`
	SceneAnalysis      int `toml:"scene_analysis"`
	ImageGeneration    int `toml:"image_generation"`
	Sweep              int `toml:"sweep"`
	PollIntervalMillis int `toml:"poll_interval_ms"`
}

// Queue configures redelivery for the durable job queue.
type Queue struct {
	MaxAttempts      int `toml:"max_attempts"`
	LeaseSeconds     int `toml:"lease_seconds"`
	BackoffInitialMS int `toml:"backoff_initial_ms"`
	BackoffMaxMS     int `toml:"backoff_max_ms"`
}

// Retry configures in-process retries around adapter calls.
type Retry struct {
	MaxAttempts        int `toml:"max_attempts"`
	InitialDelayMS     int `toml:"initial_delay_ms"`
	MaxDelayMS         int `toml:"max_delay_ms"`
	CallTimeoutSeconds int `toml:"call_timeout_seconds"`
}

// OpenAI contains credentials and models for the generation adapters.
type OpenAI struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	SpeechModel       string  `toml:"speech_model"`
	Voice             string  `toml:"voice"`
	AudioFormat       string  `toml:"audio_format"`
	ChatModel         string  `toml:"chat_model"`
	ImageModel        string  `toml:"image_model"`
	ImageSize         string  `toml:"image_size"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Sweep configures the reconciliation sweep.
type Sweep struct {
	Schedule          string `toml:"schedule"`
	StaleAfterMinutes int    `toml:"stale_after_minutes"`
	RetentionHours    int    `toml:"retention_hours"`
}

// Artifacts configures how stored blobs are addressed.
type Artifacts struct {
	// PublicBaseURL prefixes artifact keys. Empty yields file:// URLs.
	PublicBaseURL string `toml:"public_base_url"`
}

// Notifications configures ntfy delivery of pipeline events.
type Notifications struct {
	// NtfyTopic is the full topic URL. Empty disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	SequenceFailures      bool   `toml:"sequence_failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for storyloom.
//
// Configuration sections by subsystem:
//   - Paths: data, log and artifact directories plus the API bind address
//   - Source: where book text is fetched from
//   - Pipeline: windowing and prompt settings
//   - Workers: pool concurrency per job kind
//   - Queue: job redelivery and lease settings
//   - Retry: adapter retry policy
//   - OpenAI: generation adapter credentials and models
//   - Sweep: reconciliation schedule and thresholds
//   - Artifacts: artifact URL addressing
//   - Notifications: ntfy topic and event filters
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Source        Source        `toml:"source"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Workers       Workers       `toml:"workers"`
	Queue         Queue         `toml:"queue"`
	Retry         Retry         `toml:"retry"`
	OpenAI        OpenAI        `toml:"openai"`
	Sweep         Sweep         `toml:"sweep"`
	Artifacts     Artifacts     `toml:"artifacts"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/storyloom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("storyloom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ArtifactDir}
	if c.Source.Kind == SourceKindDir {
		dirs = append(dirs, c.Source.Dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RecordsPath returns the SQLite file holding books and sequences.
func (c *Config) RecordsPath() string {
	return filepath.Join(c.Paths.DataDir, "storyloom.db")
}

// QueuePath returns the SQLite file backing the durable job queue.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "storyloom.lock")
}

// LogPath returns the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "storyloom.log")
}

// StaleAfter returns the in-flight staleness threshold.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Sweep.StaleAfterMinutes) * time.Minute
}

// Retention returns how long failed sequences are kept before purging.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Sweep.RetentionHours) * time.Hour
}

// Lease returns the job visibility timeout.
func (c *Config) Lease() time.Duration {
	return time.Duration(c.Queue.LeaseSeconds) * time.Second
}

// PollInterval returns how often idle workers poll the queue.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalMillis) * time.Millisecond
}

// SourceTimeout returns the HTTP timeout for source downloads.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// NotifyTimeout bounds one ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// CallTimeout returns the per-attempt adapter timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Retry.CallTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
