// Package imagestore keeps reference face images outside the voter database.
// Voter records only hold the returned reference string.
package imagestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/voter-gate/internal/config"
)

const (
	fileScheme  = "file://"
	azureScheme = "azblob://"
)

// Store persists images and returns an opaque reference for later retrieval.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// New creates the store selected by IMAGES_BACKEND.
func New(cfg config.ImagesConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "azure":
		return NewAzureStore(cfg.AzureConnectionString, cfg.AzureContainer)
	default:
		return nil, fmt.Errorf("unknown images backend %q", cfg.Backend)
	}
}

// FileStore writes images below a local directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("images directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, base), data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return fileScheme + base, nil
}

func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, fileScheme) {
		return nil, fmt.Errorf("not a file reference: %q", ref)
	}
	base, err := cleanName(strings.TrimPrefix(ref, fileScheme))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, base))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

// cleanName keeps only the final path element so references cannot escape the store.
func cleanName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	return base, nil
}
