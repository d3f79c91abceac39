package preflight

import (
	"context"

	"storyloom/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Fatal marks checks whose failure keeps the daemon from starting.
	Fatal bool
}

// HealthChecker is implemented by generation providers that can verify
// their credentials cheaply.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RunAll executes the checks that apply to cfg. The provider check runs only
// when provider is non-nil.
func RunAll(ctx context.Context, cfg *config.Config, provider HealthChecker) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		fatal(CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)),
		fatal(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)),
		fatal(CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir)),
	}

	switch cfg.Source.Kind {
	case config.SourceKindDir:
		results = append(results, fatal(CheckReadableDirectory("Source directory", cfg.Source.Dir)))
	case config.SourceKindHTTP:
		results = append(results, CheckSourceEndpoint(ctx, cfg.Source.URLTemplate))
	}

	if provider != nil {
		results = append(results, CheckProvider(ctx, "OpenAI", provider))
	}
	return results
}

// Failed returns the fatal checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Fatal && !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func fatal(r Result) Result {
	r.Fatal = true
	return r
}
