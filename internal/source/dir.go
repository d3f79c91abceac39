package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"storyloom/internal/services"
)

// DirFetcher reads <id>.txt files from a local directory.
type DirFetcher struct {
	dir string
}

// NewDirFetcher returns a fetcher reading from dir.
func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{dir: dir}
}

// Fetch reads and parses <dir>/<sourceID>.txt.
func (f *DirFetcher) Fetch(ctx context.Context, sourceID string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := ValidateID(sourceID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(f.dir, id+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "source", "fetch", fmt.Sprintf("source %s not found in %s", id, f.dir), nil)
		}
		return nil, services.Wrap(services.ErrExternalTool, "source", "fetch", "read source file", err)
	}
	return finish(id, data)
}

var _ Fetcher = (*DirFetcher)(nil)
