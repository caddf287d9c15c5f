package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/NerdsCorp/game-update-server/pkg/blobstore"
	"github.com/NerdsCorp/game-update-server/pkg/bus"
)

// UploadRequest carries one artifact upload through the pipeline.
type UploadRequest struct {
	Kind         Kind
	Version      string
	ReleaseNotes string
	Meta         map[string]any
	Body         io.Reader
	// DeclaredSize is the content length announced by the client; -1 when
	// unknown. When declared, the received byte count must match exactly.
	DeclaredSize int64
}

// Upload runs the pipeline: stream to staging while hashing, validate, then
// commit to the blob store and registry as one logical unit. On any failure
// all partial state is discarded — the staged file always, and the stored
// blob when the registry insert is what failed (no transaction spans both
// stores, so the pipeline compensates).
//
// A successful upload is never active; activation is a separate, explicit
// step.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Release, error) {
	if _, err := ParseKind(string(req.Kind)); err != nil {
		return nil, err
	}
	version := strings.TrimSpace(req.Version)
	if !ValidVersion(version) {
		return nil, fmt.Errorf("%w: invalid version string %q", ErrValidation, req.Version)
	}
	if req.Body == nil {
		return nil, fmt.Errorf("%w: missing upload body", ErrValidation)
	}
	if req.DeclaredSize > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrPayloadTooLarge, req.DeclaredSize, s.cfg.MaxUploadBytes)
	}

	// Fail fast on duplicates before any bytes are staged. The registry's
	// unique index remains the authority if two uploads of the same version
	// race past this check.
	if _, err := s.registry.Get(ctx, req.Kind, version); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateVersion, req.Kind, version)
	} else if !errors.Is(err, ErrVersionNotFound) {
		return nil, err
	}

	size, sum, staged, err := s.stage(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		staged.Close()
		os.Remove(staged.Name())
	}()

	key := StorageKey(req.Kind, version)
	if err := s.blobs.Put(ctx, key, staged, size, sum); err != nil {
		if errors.Is(err, blobstore.ErrKeyExists) {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateVersion, req.Kind, version)
		}
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	rel := &Release{
		Kind:         req.Kind,
		Version:      version,
		Filename:     key,
		SHA256:       sum,
		SizeBytes:    size,
		ReleaseNotes: req.ReleaseNotes,
		Meta:         req.Meta,
		UploadedAt:   time.Now().UTC(),
	}
	if err := s.registry.Create(ctx, rel); err != nil {
		// Compensating action: the blob committed but the record did not,
		// so remove the blob before surfacing the error.
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Printf("ERROR compensating delete of %s failed: %v", key, delErr)
		}
		return nil, err
	}

	s.metrics.upload(req.Kind)
	s.publish(ctx, bus.SubjectUploaded, map[string]any{
		"kind":    rel.Kind,
		"version": rel.Version,
		"sha256":  rel.SHA256,
		"size":    rel.SizeBytes,
	})
	return rel, nil
}

// stage spools the request body to a temporary file, computing the checksum
// and enforcing the size limit while streaming. The returned file is open
// and positioned at the start; the caller owns its removal.
func (s *Service) stage(ctx context.Context, req UploadRequest) (int64, string, *os.File, error) {
	tmp, err := os.CreateTemp(s.cfg.StagingDir, "upload-*.zip.partial")
	if err != nil {
		return 0, "", nil, fmt.Errorf("create staging file: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := ctx.Err(); err != nil {
		return 0, "", nil, err
	}

	h := sha256.New()
	limited := io.LimitReader(req.Body, s.cfg.MaxUploadBytes+1)
	written, err := io.Copy(io.MultiWriter(tmp, h), limited)
	if err != nil {
		return 0, "", nil, fmt.Errorf("receive upload: %w", err)
	}
	if written > s.cfg.MaxUploadBytes {
		return 0, "", nil, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, s.cfg.MaxUploadBytes)
	}
	if written == 0 {
		return 0, "", nil, fmt.Errorf("%w: empty upload", ErrValidation)
	}
	if req.DeclaredSize >= 0 && written != req.DeclaredSize {
		return 0, "", nil, fmt.Errorf("%w: received %d bytes, declared %d", ErrValidation, written, req.DeclaredSize)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, "", nil, fmt.Errorf("rewind staging file: %w", err)
	}

	ok = true
	return written, hex.EncodeToString(h.Sum(nil)), tmp, nil
}
