package main

import (
	"strings"
	"testing"
)

func TestNotifyTestRequiresTopic(t *testing.T) {
	env := setupCLITestEnv(t, nil)
	_, _, err := runCLI(t, []string{"notify", "test"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("expected missing topic error, got %v", err)
	}
}
