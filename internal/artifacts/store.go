package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"storyloom/internal/config"
	"storyloom/internal/fileutil"
	"storyloom/internal/logging"
	"storyloom/internal/sequence"
	"storyloom/internal/services"
)

const hashPrefixLen = 16

// Key identifies the owner of an artifact.
type Key struct {
	BookID     int64
	SequenceID int64
	Kind       sequence.ArtifactKind
}

// Store writes and removes artifact blobs.
type Store interface {
	Put(ctx context.Context, key Key, data []byte, ext string) (string, error)
	Delete(ctx context.Context, rawURL string) error
}

// FS stores artifacts on the local filesystem.
type FS struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewFS creates a filesystem store rooted at root. An empty baseURL yields
// file:// URLs.
func NewFS(root, baseURL string, logger *slog.Logger) (*FS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "artifacts", "init", "artifact directory is required", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != "" {
		if _, err := url.Parse(baseURL); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "artifacts", "init", "invalid public base url", err)
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FS{root: abs, baseURL: baseURL, logger: logger.With(logging.String(logging.FieldComponent, "artifacts"))}, nil
}

// NewFromConfig builds the filesystem store from the [paths] and [artifacts] sections.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*FS, error) {
	return NewFS(cfg.Paths.ArtifactDir, cfg.Artifacts.PublicBaseURL, logger)
}

// Root returns the absolute artifact directory.
func (s *FS) Root() string {
	return s.root
}

// Put writes data atomically and returns its URL. Writing identical bytes
// for the same key yields the same URL.
func (s *FS) Put(ctx context.Context, key Key, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !key.Kind.Valid() {
		return "", services.Wrap(services.ErrValidation, "artifacts", "put", fmt.Sprintf("unknown artifact kind %q", key.Kind), nil)
	}
	if key.BookID <= 0 || key.SequenceID <= 0 {
		return "", services.Wrap(services.ErrValidation, "artifacts", "put", "book and sequence ids are required", nil)
	}
	if len(data) == 0 {
		return "", services.Wrap(services.ErrValidation, "artifacts", "put", "artifact is empty", nil)
	}

	dir := path.Join("books", strconv.FormatInt(key.BookID, 10), "sequences", strconv.FormatInt(key.SequenceID, 10))
	staging := filepath.Join(s.root, filepath.FromSlash(dir), "."+string(key.Kind)+"-"+uuid.NewString()+".partial")
	digest, size, err := fileutil.WriteFileAtomic(staging, bytes.NewReader(data), 0o644)
	if err != nil {
		return "", fmt.Errorf("write %s artifact: %w", key.Kind, err)
	}

	name := string(key.Kind) + "-" + digest[:hashPrefixLen] + normalizeExt(ext)
	rel := path.Join(dir, name)
	final := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.Rename(staging, final); err != nil {
		_ = fileutil.RemoveIfExists(staging)
		return "", fmt.Errorf("place %s artifact: %w", key.Kind, err)
	}

	s.logger.Debug("artifact stored",
		logging.Int64(logging.FieldBookID, key.BookID),
		logging.Int64(logging.FieldSequenceID, key.SequenceID),
		logging.String("kind", string(key.Kind)),
		logging.Int64("bytes", size),
	)
	return s.urlFor(rel), nil
}

// Delete removes the blob behind rawURL. Missing blobs are ignored.
func (s *FS) Delete(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.Resolve(rawURL)
	if err != nil {
		return err
	}
	if err := fileutil.RemoveIfExists(full); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	fileutil.PruneEmptyDirs(filepath.Dir(full), s.root)
	return nil
}

// Resolve maps an artifact URL produced by this store back to its path.
func (s *FS) Resolve(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", services.Wrap(services.ErrValidation, "artifacts", "resolve", "artifact url is required", nil)
	}

	var rel string
	switch {
	case s.baseURL != "" && strings.HasPrefix(rawURL, s.baseURL+"/"):
		rel = strings.TrimPrefix(rawURL, s.baseURL+"/")
	case strings.HasPrefix(rawURL, "file://"):
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "artifacts", "resolve", "invalid artifact url", err)
		}
		candidate, err := filepath.Rel(s.root, filepath.FromSlash(parsed.Path))
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "artifacts", "resolve", "artifact outside store", err)
		}
		rel = filepath.ToSlash(candidate)
	default:
		return "", services.Wrap(services.ErrValidation, "artifacts", "resolve", "artifact url not owned by this store", nil)
	}

	cleaned := path.Clean("/" + rel)[1:]
	if cleaned == "" || cleaned != rel || strings.HasPrefix(cleaned, "..") {
		return "", services.Wrap(services.ErrValidation, "artifacts", "resolve", "artifact outside store", nil)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *FS) urlFor(rel string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + rel
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, filepath.FromSlash(rel)))}
	return u.String()
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		return ".bin"
	}
	return "." + ext
}

var _ Store = (*FS)(nil)
