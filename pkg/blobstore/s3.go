package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	gos3 "github.com/NerdsCorp/game-update-server/pkg/s3"
)

// S3 stores artifacts in an object storage bucket under a fixed key prefix.
// Object storage writes are already atomic from the reader's perspective, so
// no extra staging step is needed.
type S3 struct {
	client *gos3.Client
	bucket string
	prefix string
}

// NewS3 returns a Store backed by the given bucket. Keys are namespaced under
// prefix (e.g. "releases").
func NewS3(client *gos3.Client, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("blobstore: s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("blobstore: bucket is required")
	}
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64, sha256Hex string) error {
	exists, err := s.client.HeadObject(ctx, s.bucket, s.objectKey(key))
	if err != nil {
		return fmt.Errorf("blobstore: head %s: %w", key, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrKeyExists, key)
	}
	if err := s.client.PutObject(ctx, s.bucket, s.objectKey(key), r, size, sha256Hex); err != nil {
		return fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	return nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key))
	if err != nil {
		if gos3.IsNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("blobstore: open %s: %w", key, err)
	}
	return body, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.DeleteObject(ctx, s.bucket, s.objectKey(key)); err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

func (s *S3) List(ctx context.Context) ([]string, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	objects, err := s.client.ListKeys(ctx, s.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("blobstore: list: %w", err)
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, strings.TrimPrefix(obj, prefix))
	}
	return keys, nil
}

// DownloadURL returns a presigned GET URL so clients can fetch large builds
// directly from object storage.
func (s *S3) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.client.PresignGet(ctx, s.bucket, s.objectKey(key), ttl)
}
