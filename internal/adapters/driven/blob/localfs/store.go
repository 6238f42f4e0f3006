// Package localfs stores uploaded bytes on the local filesystem under
// <root>/<business>/<data source>/<name>.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.BlobStore = (*Store)(nil)

// Store is a directory-backed blob store.
type Store struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: blob root is required", domain.ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Put writes content through a temp file and rename so readers never see
// a partial file.
func (s *Store) Put(_ context.Context, businessID, dataSourceID, name string, content []byte) (string, error) {
	for _, part := range []string{businessID, dataSourceID} {
		if part == "" || part != filepath.Base(part) || part == "." || part == ".." {
			return "", fmt.Errorf("%w: invalid path segment %q", domain.ErrInvalidInput, part)
		}
	}
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		base = "upload"
	}

	dir := filepath.Join(s.root, businessID, dataSourceID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing blob: %w", err)
	}

	path := filepath.Join(dir, base)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("renaming blob: %w", err)
	}
	return path, nil
}

// Get reads stored content.
func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	if err := s.contains(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Delete removes the file and its data source directory when empty.
func (s *Store) Delete(_ context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := s.contains(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	// Fails harmlessly when the directory still has entries.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func (s *Store) contains(path string) error {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: path outside blob root", domain.ErrInvalidInput)
	}
	return nil
}
