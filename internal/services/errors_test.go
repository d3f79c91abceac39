package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"storyloom/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "audio-generation", "synthesize", "narration failed", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"audio-generation", "synthesize", "narration failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestIsInfrastructure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"store", services.Wrap(services.ErrInfrastructure, "store", "record artifact", "", errors.New("disk I/O")), true},
		{"canceled", fmt.Errorf("narrate: %w", context.Canceled), true},
		{"adapter", services.Wrap(services.ErrExternalTool, "scene-analysis", "describe", "", nil), false},
		{"not found", services.Wrap(services.ErrNotFound, "store", "get sequence", "", nil), false},
	}
	for _, tc := range cases {
		if got := services.IsInfrastructure(tc.err); got != tc.want {
			t.Fatalf("%s: IsInfrastructure=%v want %v", tc.name, got, tc.want)
		}
	}
}
