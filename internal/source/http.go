package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyloom/internal/services"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxSourceBytes     = 32 << 20
)

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	// URLTemplate contains an {id} placeholder replaced by the source id.
	URLTemplate string
	UserAgent   string
	Timeout     time.Duration
}

// HTTPFetcher downloads source text from an HTTP catalog.
type HTTPFetcher struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

// HTTPOption customizes the fetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// NewHTTPFetcher constructs a fetcher for the supplied catalog.
func NewHTTPFetcher(cfg HTTPConfig, opts ...HTTPOption) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	f := &HTTPFetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads and parses the book identified by sourceID.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceID string) (*Document, error) {
	id, err := ValidateID(sourceID)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(f.cfg.URLTemplate, "{id}") {
		return nil, services.Wrap(services.ErrConfiguration, "source", "fetch", "url template must contain {id}", nil)
	}
	target := strings.ReplaceAll(f.cfg.URLTemplate, "{id}", url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "source", "fetch", "build request", err)
	}
	if ua := strings.TrimSpace(f.cfg.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "source", "fetch", fmt.Sprintf("download %s", id), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, services.Wrap(services.ErrNotFound, "source", "fetch", fmt.Sprintf("source %s not found", id), nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, services.Wrap(services.ErrTransient, "source", "fetch", fmt.Sprintf("catalog returned http %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, services.Wrap(services.ErrExternalTool, "source", "fetch", fmt.Sprintf("catalog returned http %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "source", "fetch", "read body", err)
	}
	if len(body) > maxSourceBytes {
		return nil, services.Wrap(services.ErrValidation, "source", "fetch", fmt.Sprintf("source %s exceeds %d bytes", id, maxSourceBytes), nil)
	}
	return finish(id, body)
}

var _ Fetcher = (*HTTPFetcher)(nil)
