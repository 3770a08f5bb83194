// Package fsxs3 stores objects in an S3 bucket.
package fsxs3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/fsx"
)

// Store implements fsx.FileStore and fsx.Presigner on one bucket.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func NewStore(client *s3.Client, bucket string) *Store {
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}
}

func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.ReadStream(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fsx.ReadFailed(path, err)
	}
	return data, nil
}

func (s *Store) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fsx.NotFound(path)
		}
		return nil, fsx.ReadFailed(path, err)
	}
	return out.Body, nil
}

func (s *Store) Stat(ctx context.Context, path string) (fsx.FileInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return fsx.FileInfo{}, fsx.NotFound(path)
		}
		return fsx.FileInfo{}, fsx.ReadFailed(path, err)
	}

	info := fsx.FileInfo{Path: path, ContentType: aws.ToString(out.ContentType)}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return info, nil
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

func (s *Store) Write(ctx context.Context, path string, data []byte, contentType string) error {
	return s.WriteStream(ctx, path, bytes.NewReader(data), contentType)
}

func (s *Store) WriteStream(ctx context.Context, path string, r io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fsx.WriteFailed(path, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fsx.WriteFailed(path, err)
	}
	return nil
}

func (s *Store) PresignDownload(ctx context.Context, path string, expires time.Duration) (string, error) {
	out, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fsx.ReadFailed(path, err)
	}
	return out.URL, nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

var (
	_ fsx.FileStore = (*Store)(nil)
	_ fsx.Presigner = (*Store)(nil)
)
