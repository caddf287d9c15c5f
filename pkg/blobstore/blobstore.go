// Package blobstore provides durable storage for release artifacts addressed
// by opaque keys. Writes are atomic: a reader never observes a partially
// written object.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when the requested key does not exist.
	ErrNotFound = errors.New("blobstore: object not found")
	// ErrKeyExists is returned by Put when the key is already occupied.
	ErrKeyExists = errors.New("blobstore: key already exists")
	// ErrChecksumMismatch is returned when the written bytes do not match
	// the digest declared by the caller.
	ErrChecksumMismatch = errors.New("blobstore: checksum mismatch")
)

// Store is the artifact storage contract used by the upload pipeline and the
// download handlers. Delete is idempotent; deleting an absent key succeeds.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, sha256Hex string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// URLSigner is implemented by backends that can hand out a direct download
// URL instead of streaming bytes through the service.
type URLSigner interface {
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
