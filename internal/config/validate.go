package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateOpenAI(); err != nil {
		return err
	}
	if err := c.validateSweep(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.ArtifactDir == "" {
		return errors.New("paths.artifact_dir must be set")
	}
	return nil
}

func (c *Config) validateSource() error {
	switch c.Source.Kind {
	case SourceKindHTTP:
		if !strings.Contains(c.Source.URLTemplate, "{id}") {
			return errors.New("source.url_template must contain an {id} placeholder")
		}
	case SourceKindDir:
		if c.Source.Dir == "" {
			return errors.New("source.dir must be set when source.kind is dir")
		}
	default:
		return fmt.Errorf("source.kind %q is not supported (use http or dir)", c.Source.Kind)
	}
	if c.Source.TimeoutSeconds <= 0 {
		return errors.New("source.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.WordsPerSequence <= 0 {
		return errors.New("pipeline.words_per_sequence must be positive")
	}
	if c.Pipeline.InitialBatch < 0 {
		return errors.New("pipeline.initial_batch must be zero or positive")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	counts := map[string]int{
		"workers.sequence_processing": c.Workers.SequenceProcessing,
		"workers.audio_generation":    c.Workers.AudioGeneration,
		"workers.scene_analysis":      c.Workers.SceneAnalysis,
		"workers.image_generation":    c.Workers.ImageGeneration,
		"workers.sweep":               c.Workers.Sweep,
	}
	for key, value := range counts {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.Workers.PollIntervalMillis <= 0 {
		return errors.New("workers.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxAttempts <= 0 {
		return errors.New("queue.max_attempts must be positive")
	}
	if c.Queue.LeaseSeconds <= 0 {
		return errors.New("queue.lease_seconds must be positive")
	}
	if c.Queue.BackoffInitialMS <= 0 || c.Queue.BackoffMaxMS < c.Queue.BackoffInitialMS {
		return errors.New("queue.backoff_initial_ms must be positive and not exceed queue.backoff_max_ms")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.InitialDelayMS <= 0 || c.Retry.MaxDelayMS < c.Retry.InitialDelayMS {
		return errors.New("retry.initial_delay_ms must be positive and not exceed retry.max_delay_ms")
	}
	if c.Retry.CallTimeoutSeconds <= 0 {
		return errors.New("retry.call_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateOpenAI() error {
	if c.OpenAI.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/storyloom/config.toml"
		}
		return fmt.Errorf("openai.api_key is required. Set OPENAI_API_KEY env var or edit %s (create with 'storyloom config init')", defaultPath)
	}
	if _, err := url.ParseRequestURI(c.OpenAI.BaseURL); err != nil {
		return fmt.Errorf("openai.base_url: %w", err)
	}
	for key, value := range map[string]string{
		"openai.speech_model": c.OpenAI.SpeechModel,
		"openai.voice":        c.OpenAI.Voice,
		"openai.chat_model":   c.OpenAI.ChatModel,
		"openai.image_model":  c.OpenAI.ImageModel,
		"openai.image_size":   c.OpenAI.ImageSize,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if c.OpenAI.RequestsPerSecond < 0 {
		return errors.New("openai.requests_per_second must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateSweep() error {
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		return fmt.Errorf("sweep.schedule %q: %w", c.Sweep.Schedule, err)
	}
	if c.Sweep.StaleAfterMinutes <= 0 {
		return errors.New("sweep.stale_after_minutes must be positive")
	}
	if c.Sweep.RetentionHours <= 0 {
		return errors.New("sweep.retention_hours must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(c.Notifications.NtfyTopic); err != nil {
		return fmt.Errorf("notifications.ntfy_topic: %w", err)
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		return errors.New("notifications.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
