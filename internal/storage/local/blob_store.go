// Package local archives result snapshots under a directory on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory archives are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes archives beneath baseDir. Files appear atomically, so a
// reader never sees a half-written snapshot.
type BlobStore struct {
	baseDir string
}

// New creates BaseDir if needed and returns a store rooted there.
func New(cfg Config) (*BlobStore, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, errors.New("local: base directory is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		if isFile(dir) {
			return nil, fmt.Errorf("local: %s is not a directory", dir)
		}
		return nil, fmt.Errorf("local: create %s: %w", dir, err)
	}
	return &BlobStore{baseDir: dir}, nil
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// PutObject writes data to name under the base directory and returns a
// file:// URI. Names may not escape the base directory.
func (s *BlobStore) PutObject(_ context.Context, name string, _ string, data io.Reader) (string, error) {
	target, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("local: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("local: stage %s: %w", name, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, copyErr := io.Copy(tmp, data)
	if err := errors.Join(copyErr, tmp.Close()); err != nil {
		return "", fmt.Errorf("local: write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("local: publish %s: %w", name, err)
	}
	return "file://" + target, nil
}

func (s *BlobStore) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("local: object name is required")
	}
	target := filepath.Join(s.baseDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.baseDir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local: %q escapes the archive directory", name)
	}
	return target, nil
}
