package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"storyloom/internal/config"
	"storyloom/internal/services"
)

// Document is a fetched source text.
type Document struct {
	SourceID string
	Title    string
	Author   string
	Text     string
}

// Fetcher retrieves the text of a book by catalog id.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID string) (*Document, error)
}

var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID rejects ids that cannot be used in a URL path or file name.
func ValidateID(sourceID string) (string, error) {
	id := strings.TrimSpace(sourceID)
	if id == "" {
		return "", services.Wrap(services.ErrValidation, "source", "validate id", "source id is required", nil)
	}
	if !sourceIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return "", services.Wrap(services.ErrValidation, "source", "validate id", fmt.Sprintf("invalid source id %q", id), nil)
	}
	return id, nil
}

// New builds the fetcher selected by the [source] section.
func New(cfg *config.Config) (Fetcher, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "source", "init", "configuration is required", nil)
	}
	switch cfg.Source.Kind {
	case config.SourceKindDir:
		return NewDirFetcher(cfg.Source.Dir), nil
	case config.SourceKindHTTP, "":
		return NewHTTPFetcher(HTTPConfig{
			URLTemplate: cfg.Source.URLTemplate,
			UserAgent:   cfg.Source.UserAgent,
			Timeout:     cfg.SourceTimeout(),
		}), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "source", "init", fmt.Sprintf("unsupported source kind %q", cfg.Source.Kind), nil)
	}
}

func finish(sourceID string, raw []byte) (*Document, error) {
	doc := Parse(sourceID, string(raw))
	if strings.TrimSpace(doc.Text) == "" {
		return nil, services.Wrap(services.ErrValidation, "source", "fetch", fmt.Sprintf("source %s has no text", sourceID), nil)
	}
	return doc, nil
}
