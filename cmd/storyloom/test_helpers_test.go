package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	sourceDir  string
}

// setupCLITestEnv writes a config that reads books from a local directory and
// keeps every store under a temp dir.
func setupCLITestEnv(t *testing.T, sources map[string]string) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("STORYLOOM_API_TOKEN", "")

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		sourceDir:  filepath.Join(base, "sources"),
	}
	if err := os.MkdirAll(env.sourceDir, 0o755); err != nil {
		t.Fatalf("mkdir sources: %v", err)
	}
	for id, text := range sources {
		if err := os.WriteFile(filepath.Join(env.sourceDir, id+".txt"), []byte(text), 0o644); err != nil {
			t.Fatalf("write source %s: %v", id, err)
		}
	}

	config := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
artifact_dir = %q
api_bind = ""

[source]
kind = "dir"
dir = %q

[pipeline]
words_per_sequence = 3

[openai]
api_key = "test-key"
`, filepath.Join(base, "data"), filepath.Join(base, "logs"), filepath.Join(base, "artifacts"), env.sourceDir)
	if err := os.WriteFile(env.configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}
