// Package output stores reduced GSAS files under an output root.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for empty, absolute or escaping paths.
var ErrInvalidPath = errors.New("invalid output path")

// FileSink writes files atomically below Root: data goes to a temporary
// file in the destination directory which is then renamed into place.
type FileSink struct {
	root     string
	permFile os.FileMode
	permDir  os.FileMode
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty output root", ErrInvalidPath)
	}
	return &FileSink{root: dir, permFile: 0o644, permDir: 0o755}, nil
}

// Root returns the output root.
func (s *FileSink) Root() string { return s.root }

// Put writes data to rel below the root and returns the written path.
func (s *FileSink) Put(ctx context.Context, rel string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), s.permDir); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := s.writeAtomic(dest, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return dest, nil
}

// Exists reports whether rel already exists below the root.
func (s *FileSink) Exists(rel string) (bool, error) {
	dest, err := s.resolve(rel)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(dest)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *FileSink) resolve(rel string) (string, error) {
	clean := filepath.Clean(rel)
	switch {
	case rel == "" || clean == ".":
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	case filepath.IsAbs(clean) || filepath.VolumeName(clean) != "":
		return "", fmt.Errorf("%w: %s is absolute", ErrInvalidPath, rel)
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return "", fmt.Errorf("%w: %s escapes the output root", ErrInvalidPath, rel)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileSink) writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(s.permFile); err != nil {
		return fail(err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
