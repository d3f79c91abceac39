package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"storyloom/internal/config"
)

type checkerStub struct{ err error }

func (c checkerStub) HealthCheck(context.Context) error { return c.err }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckReadableDirectory_Unconfigured(t *testing.T) {
	if result := CheckReadableDirectory("source", ""); result.Passed {
		t.Fatal("expected failure for empty path")
	}
}

func TestCheckSourceEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if result := CheckSourceEndpoint(context.Background(), srv.URL+"/books/{id}.txt"); !result.Passed {
		t.Fatalf("expected 404 host to count as reachable, got: %s", result.Detail)
	}
	if result := CheckSourceEndpoint(context.Background(), "not a url"); result.Passed {
		t.Fatal("expected failure for invalid template")
	}
}

func TestCheckSourceEndpoint_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if result := CheckSourceEndpoint(context.Background(), srv.URL+"/{id}"); result.Passed {
		t.Fatal("expected failure for 503")
	}
}

func TestCheckProvider(t *testing.T) {
	if result := CheckProvider(context.Background(), "OpenAI", checkerStub{}); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	result := CheckProvider(context.Background(), "OpenAI", checkerStub{err: context.DeadlineExceeded})
	if result.Passed || result.Detail != "health check timed out (API unresponsive)" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_DirSource(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.ArtifactDir = t.TempDir()
	cfg.Source.Kind = config.SourceKindDir
	cfg.Source.Dir = t.TempDir()

	results := RunAll(context.Background(), &cfg, nil)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected no fatal failures, got %+v", failed)
	}
}

func TestRunAll_ProviderFailureIsNotFatal(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Paths.ArtifactDir = filepath.Join(t.TempDir(), "missing")
	cfg.Source.Kind = config.SourceKindDir
	cfg.Source.Dir = t.TempDir()

	results := RunAll(context.Background(), &cfg, checkerStub{err: errors.New("invalid api key")})
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Artifact directory" {
		t.Fatalf("expected only the artifact directory to be fatal, got %+v", failed)
	}
	last := results[len(results)-1]
	if last.Name != "OpenAI" || last.Passed || last.Fatal {
		t.Fatalf("unexpected provider result %+v", last)
	}
}
