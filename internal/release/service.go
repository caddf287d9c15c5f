package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/NerdsCorp/game-update-server/pkg/blobstore"
	"github.com/NerdsCorp/game-update-server/pkg/bus"
)

const defaultMaxUploadBytes = 5 << 30 // 5 GiB, matching the historical limit

// ServiceConfig controls engine behaviour.
type ServiceConfig struct {
	// MaxUploadBytes caps the size of a single uploaded artifact.
	MaxUploadBytes int64
	// StagingDir receives in-flight uploads before they are committed to
	// the blob store. Defaults to the OS temp dir.
	StagingDir string
	// PresignTTL is the lifetime of direct download URLs when the blob
	// store supports them.
	PresignTTL time.Duration
}

// Service is the engine facade consumed by the HTTP layer and the CLI. It
// owns no state of its own; every invariant lives in the registry's database
// or the blob store.
type Service struct {
	registry *Registry
	blobs    blobstore.Store
	bus      *bus.Bus
	metrics  *Metrics
	logger   *log.Logger
	cfg      ServiceConfig
}

// NewService wires the engine together. bus and metrics may be nil.
func NewService(registry *Registry, blobs blobstore.Store, eventBus *bus.Bus, metrics *Metrics, logger *log.Logger, cfg ServiceConfig) (*Service, error) {
	if registry == nil {
		return nil, errors.New("release: registry is required")
	}
	if blobs == nil {
		return nil, errors.New("release: blob store is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	return &Service{
		registry: registry,
		blobs:    blobs,
		bus:      eventBus,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}, nil
}

// MaxUploadBytes reports the configured per-artifact size cap.
func (s *Service) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes
}

// Activate makes (kind, version) the single live release of its kind.
func (s *Service) Activate(ctx context.Context, kind Kind, version string) error {
	if err := s.registry.SetActive(ctx, kind, version); err != nil {
		return err
	}
	s.metrics.activation(kind)
	s.publish(ctx, bus.SubjectActivated, map[string]any{"kind": kind, "version": version})
	return nil
}

// Deactivate clears the active release of the kind, leaving zero active.
// This is deliberate and distinct from activating another version; it is
// idempotent.
func (s *Service) Deactivate(ctx context.Context, kind Kind) error {
	if err := s.registry.ClearActive(ctx, kind); err != nil {
		return err
	}
	s.publish(ctx, bus.SubjectDeactivated, map[string]any{"kind": kind})
	return nil
}

// Delete removes an inactive release and its stored artifact. Deleting the
// active release fails with ErrActiveVersion; deactivate or activate another
// version first.
func (s *Service) Delete(ctx context.Context, kind Kind, version string) error {
	rel, err := s.registry.Delete(ctx, kind, version)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, rel.Filename); err != nil {
		// The record is gone; the file is now an orphan that SweepOrphans
		// will reclaim.
		s.logger.Printf("WARN delete artifact %s: %v", rel.Filename, err)
	}
	s.publish(ctx, bus.SubjectDeleted, map[string]any{"kind": kind, "version": version})
	return nil
}

// Active returns the live release of the kind, or ErrNoActiveVersion.
func (s *Service) Active(ctx context.Context, kind Kind) (*Release, error) {
	return s.registry.Active(ctx, kind)
}

// History returns every release of the kind, newest upload first.
func (s *Service) History(ctx context.Context, kind Kind) ([]Release, error) {
	return s.registry.List(ctx, kind)
}

// Get returns the release identified by (kind, version).
func (s *Service) Get(ctx context.Context, kind Kind, version string) (*Release, error) {
	return s.registry.Get(ctx, kind, version)
}

// UpdateNotes edits the release notes of an inactive release.
func (s *Service) UpdateNotes(ctx context.Context, kind Kind, version, notes string) error {
	return s.registry.UpdateNotes(ctx, kind, version, notes)
}

// RecordDownload bumps the download counter for (kind, version). A missing
// record is logged, never surfaced: the download path must not break over
// bookkeeping.
func (s *Service) RecordDownload(ctx context.Context, kind Kind, version string) {
	if err := s.registry.IncrementDownloads(ctx, kind, version); err != nil {
		s.logger.Printf("WARN record download %s/%s: %v", kind, version, err)
		return
	}
	s.metrics.download(kind)
}

// Open resolves the storage key for a filename and opens the artifact for
// streaming.
func (s *Service) Open(ctx context.Context, filename string) (io.ReadCloser, *Release, error) {
	rel, err := s.registry.FindByFilename(ctx, filename)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, rel.Filename)
	if err != nil {
		return nil, nil, err
	}
	return rc, rel, nil
}

// DownloadURL returns a direct download URL and the matching release when
// the blob store can presign one; ok is false for backends that only stream
// through the service.
func (s *Service) DownloadURL(ctx context.Context, filename string) (string, *Release, bool, error) {
	signer, ok := s.blobs.(blobstore.URLSigner)
	if !ok {
		return "", nil, false, nil
	}
	rel, err := s.registry.FindByFilename(ctx, filename)
	if err != nil {
		return "", nil, false, err
	}
	url, err := signer.DownloadURL(ctx, rel.Filename, s.cfg.PresignTTL)
	if err != nil {
		return "", nil, false, err
	}
	return url, rel, true, nil
}

// SweepOrphans deletes stored artifacts that have no registry record. Such
// files can only appear when a crash interrupts the upload pipeline between
// its compensating actions; the registry is the source of truth for which
// files are live.
func (s *Service) SweepOrphans(ctx context.Context) (int, error) {
	keys, err := s.blobs.List(ctx)
	if err != nil {
		return 0, err
	}
	registered, err := s.registry.ListFilenames(ctx)
	if err != nil {
		return 0, err
	}
	live := make(map[string]struct{}, len(registered))
	for _, f := range registered {
		live[f] = struct{}{}
	}

	removed := 0
	for _, key := range keys {
		if _, ok := live[key]; ok {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("sweep %s: %w", key, err)
		}
		s.logger.Printf("INFO removed orphaned artifact %s", key)
		removed++
	}
	return removed, nil
}

func (s *Service) publish(ctx context.Context, subject string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		s.logger.Printf("WARN publish %s: %v", subject, err)
	}
}
