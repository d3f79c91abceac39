package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"storyloom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.OpenAI.APIKey = "test"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Source.Dir = filepath.Join(base, "sources")
	cfgVal.Workers.PollIntervalMillis = 10
	cfgVal.Queue.BackoffInitialMS = 1
	cfgVal.Queue.BackoffMaxMS = 5
	cfgVal.Retry.InitialDelayMS = 1
	cfgVal.Retry.MaxDelayMS = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIKey sets the OpenAI API key on the test config.
func WithAPIKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.OpenAI.APIKey = key
	}
}

// WithWordsPerSequence overrides the window size.
func WithWordsPerSequence(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.WordsPerSequence = n
	}
}

// WithInitialBatch limits how many sequences ingest enqueues.
func WithInitialBatch(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.InitialBatch = n
	}
}

// WithAutoTopUp toggles admitting the next window as sequences settle.
func WithAutoTopUp(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.AutoTopUp = enabled
	}
}

// WithSourceFiles switches the config to the directory source and writes
// each id => text pair as <id>.txt.
func WithSourceFiles(files map[string]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Source.Kind = config.SourceKindDir
		if err := os.MkdirAll(b.cfg.Source.Dir, 0o755); err != nil {
			b.t.Fatalf("mkdir source dir: %v", err)
		}
		for id, text := range files {
			target := filepath.Join(b.cfg.Source.Dir, id+".txt")
			if err := os.WriteFile(target, []byte(text), 0o644); err != nil {
				b.t.Fatalf("write source %s: %v", id, err)
			}
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
