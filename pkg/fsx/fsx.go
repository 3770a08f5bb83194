// Package fsx abstracts blob storage. The OCR handler reads uploaded scans
// through it and the export handler writes generated artifacts; backends
// live in fsxlocal and fsxs3.
package fsx

import (
	"context"
	"io"
	"time"

	"github.com/Abraxas-365/recibo/pkg/errx"
)

var fsErrors = errx.NewRegistry("FSX")

var (
	ErrNotFound    = fsErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "File not found")
	ErrReadFailed  = fsErrors.Register("READ_FAILED", errx.TypeExternal, 500, "File read failed")
	ErrWriteFailed = fsErrors.Register("WRITE_FAILED", errx.TypeExternal, 500, "File write failed")
)

// NotFound builds the canonical missing-file error.
func NotFound(path string) *errx.Error {
	return fsErrors.New(ErrNotFound).WithDetail("path", path)
}

// ReadFailed wraps a backend read error.
func ReadFailed(path string, err error) *errx.Error {
	return fsErrors.NewWithCause(ErrReadFailed, err).WithDetail("path", path)
}

// WriteFailed wraps a backend write error.
func WriteFailed(path string, err error) *errx.Error {
	return fsErrors.NewWithCause(ErrWriteFailed, err).WithDetail("path", path)
}

// FileInfo describes a stored object.
type FileInfo struct {
	Path        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Reader provides read access to stored objects.
type Reader interface {
	Read(ctx context.Context, path string) ([]byte, error)
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Writer provides write access to stored objects.
type Writer interface {
	Write(ctx context.Context, path string, data []byte, contentType string) error
	WriteStream(ctx context.Context, path string, r io.Reader, contentType string) error
}

// Presigner hands out time-limited download links, used by export results.
type Presigner interface {
	PresignDownload(ctx context.Context, path string, expires time.Duration) (string, error)
}

// FileStore is the full storage surface the workers depend on.
type FileStore interface {
	Reader
	Writer
	Delete(ctx context.Context, path string) error
}
