package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local stores artifacts as flat files under a root directory. Objects are
// written to a temporary file in the same directory and renamed into place
// only after the full stream and checksum have been validated.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed and returns a Local store.
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blobstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean != key || strings.ContainsAny(key, `/\`) || key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("blobstore: invalid key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, sha256Hex string) error {
	dst, err := l.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrKeyExists, key)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: stat %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.root, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("blobstore: create staging file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpName)
	}()

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("blobstore: wrote %d bytes for %s, expected %d", written, key, size)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(sum, sha256Hex) {
		return fmt.Errorf("%w: got %s want %s", ErrChecksumMismatch, sum, sha256Hex)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("blobstore: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blobstore: close %s: %w", key, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("blobstore: commit %s: %w", key, err)
	}
	return nil
}

func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: open %s: %w", key, err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

// List returns the keys of all committed objects, sorted. Staging files are
// skipped.
func (l *Local) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: list: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Size reports the on-disk size of a committed object.
func (l *Local) Size(key string) (int64, error) {
	p, err := l.path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return 0, err
	}
	if info.Mode()&fs.ModeType != 0 {
		return 0, fmt.Errorf("blobstore: %s is not a regular file", key)
	}
	return info.Size(), nil
}
