// Package fsxlocal stores objects on the local filesystem, for development
// and tests.
package fsxlocal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/fsx"
)

// Store implements fsx.FileStore rooted at a base directory. Paths are
// cleaned and confined to the root.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errx.Wrap(err, "failed to create storage root", errx.TypeInternal).
			WithDetail("root", root)
	}
	return &Store{root: root}, nil
}

func (s *Store) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", fsx.NotFound(path)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Store) Read(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fsx.NotFound(path)
		}
		return nil, fsx.ReadFailed(path, err)
	}
	return data, nil
}

func (s *Store) ReadStream(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fsx.NotFound(path)
		}
		return nil, fsx.ReadFailed(path, err)
	}
	return f, nil
}

func (s *Store) Stat(_ context.Context, path string) (fsx.FileInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return fsx.FileInfo{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return fsx.FileInfo{}, fsx.NotFound(path)
		}
		return fsx.FileInfo{}, fsx.ReadFailed(path, err)
	}
	return fsx.FileInfo{Path: path, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.Stat(ctx, path)
	if err != nil {
		if errx.HasCode(err, fsx.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Write(_ context.Context, path string, data []byte, _ string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fsx.WriteFailed(path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fsx.WriteFailed(path, err)
	}
	return nil
}

func (s *Store) WriteStream(ctx context.Context, path string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fsx.ReadFailed(path, err)
	}
	return s.Write(ctx, path, data, contentType)
}

func (s *Store) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fsx.NotFound(path)
		}
		return fsx.WriteFailed(path, err)
	}
	return nil
}

// PresignDownload returns a file:// URL. Local storage has no real
// presigning; this keeps the export flow working in development.
func (s *Store) PresignDownload(_ context.Context, path string, _ time.Duration) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	return "file://" + full, nil
}

var (
	_ fsx.FileStore = (*Store)(nil)
	_ fsx.Presigner = (*Store)(nil)
)
