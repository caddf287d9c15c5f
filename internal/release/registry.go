package release

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Registry is the authoritative metadata store for releases. All invariants
// are enforced in the database, never in process memory, because multiple
// stateless workers may operate on the same registry concurrently:
//
//   - (kind, version) uniqueness by a composite unique index;
//   - at most one active release per kind by a partial unique index on kind
//     WHERE is_active;
//   - active releases are undeletable by a conditional delete inside a
//     transaction.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Create inserts a new release record. The record is never created active.
func (r *Registry) Create(ctx context.Context, rel *Release) error {
	m := releaseModel{
		ID:           rel.ID,
		Kind:         string(rel.Kind),
		Version:      rel.Version,
		Filename:     rel.Filename,
		SHA256:       rel.SHA256,
		SizeBytes:    rel.SizeBytes,
		ReleaseNotes: rel.ReleaseNotes,
		Meta:         toJSONMap(rel.Meta),
		IsActive:     false,
		UploadedAt:   rel.UploadedAt,
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateVersion, rel.Kind, rel.Version)
		}
		return fmt.Errorf("create release: %w", err)
	}
	*rel = m.toAPI()
	return nil
}

// Get returns the release identified by (kind, version).
func (r *Registry) Get(ctx context.Context, kind Kind, version string) (*Release, error) {
	var m releaseModel
	err := r.db.WithContext(ctx).Where("kind = ? AND version = ?", kind, version).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrVersionNotFound, kind, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}
	rel := m.toAPI()
	return &rel, nil
}

// FindByFilename resolves a storage key back to its release record. Used by
// the download path.
func (r *Registry) FindByFilename(ctx context.Context, filename string) (*Release, error) {
	var m releaseModel
	err := r.db.WithContext(ctx).Where("filename = ?", filename).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: filename %s", ErrVersionNotFound, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("find release: %w", err)
	}
	rel := m.toAPI()
	return &rel, nil
}

// Active returns the currently active release of the kind, or
// ErrNoActiveVersion when nothing has been activated.
func (r *Registry) Active(ctx context.Context, kind Kind) (*Release, error) {
	var m releaseModel
	err := r.db.WithContext(ctx).Where("kind = ? AND is_active", kind).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("active release: %w", err)
	}
	rel := m.toAPI()
	return &rel, nil
}

// List returns every release of the kind, newest upload first.
func (r *Registry) List(ctx context.Context, kind Kind) ([]Release, error) {
	var models []releaseModel
	err := r.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("uploaded_at DESC, version DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	out := make([]Release, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

// ListFilenames returns the storage keys of every registered release. Used
// by orphan reconciliation.
func (r *Registry) ListFilenames(ctx context.Context) ([]string, error) {
	var filenames []string
	err := r.db.WithContext(ctx).
		Model(&releaseModel{}).
		Pluck("filename", &filenames).Error
	if err != nil {
		return nil, fmt.Errorf("list filenames: %w", err)
	}
	return filenames, nil
}

// SetActive makes (kind, version) the single active release of its kind.
// Inside one transaction the previous active row is cleared and the target
// set; the partial unique index turns any interleaving that would persist
// two active rows into a constraint violation, surfaced as
// ErrActivationConflict for the caller to retry.
func (r *Registry) SetActive(ctx context.Context, kind Kind, version string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m releaseModel
		err := tx.Where("kind = ? AND version = ?", kind, version).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrVersionNotFound, kind, version)
		}
		if err != nil {
			return err
		}
		if m.IsActive {
			return nil
		}

		if err := tx.Model(&releaseModel{}).
			Where("kind = ? AND is_active AND version <> ?", kind, version).
			Update("is_active", false).Error; err != nil {
			return err
		}

		res := tx.Model(&releaseModel{}).Where("id = ?", m.ID).Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Row vanished between the read and the write.
			return fmt.Errorf("%w: %s/%s", ErrVersionNotFound, kind, version)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) || isSerializationFailure(err) {
			return fmt.Errorf("%w: %s/%s", ErrActivationConflict, kind, version)
		}
		return err
	}
	return nil
}

// ClearActive deactivates whatever release of the kind is active. It is
// idempotent: clearing a kind with no active release succeeds.
func (r *Registry) ClearActive(ctx context.Context, kind Kind) error {
	err := r.db.WithContext(ctx).Model(&releaseModel{}).
		Where("kind = ? AND is_active", kind).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("clear active: %w", err)
	}
	return nil
}

// Delete removes the release record and returns it so the caller can delete
// the backing artifact. The is_active check happens inside the same
// transaction as the removal, so a concurrent activation cannot slip a
// deletion of the active release past a stale read.
func (r *Registry) Delete(ctx context.Context, kind Kind, version string) (*Release, error) {
	var deleted Release
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m releaseModel
		err := tx.Where("kind = ? AND version = ?", kind, version).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrVersionNotFound, kind, version)
		}
		if err != nil {
			return err
		}

		res := tx.Where("kind = ? AND version = ? AND NOT is_active", kind, version).
			Delete(&releaseModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s/%s", ErrActiveVersion, kind, version)
		}
		deleted = m.toAPI()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// UpdateNotes replaces the release notes. Notes are only mutable while the
// release is inactive; once a build is live its notes are frozen.
func (r *Registry) UpdateNotes(ctx context.Context, kind Kind, version, notes string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&releaseModel{}).
			Where("kind = ? AND version = ? AND NOT is_active", kind, version).
			Update("release_notes", notes)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		var m releaseModel
		err := tx.Where("kind = ? AND version = ?", kind, version).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrVersionNotFound, kind, version)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s/%s", ErrActiveVersion, kind, version)
	})
}

// IncrementDownloads bumps the download counter. The counter is monotonic;
// the increment happens in the database so concurrent downloads never lose
// updates.
func (r *Registry) IncrementDownloads(ctx context.Context, kind Kind, version string) error {
	res := r.db.WithContext(ctx).Model(&releaseModel{}).
		Where("kind = ? AND version = ?", kind, version).
		UpdateColumn("download_count", gorm.Expr("download_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment downloads: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrVersionNotFound, kind, version)
	}
	return nil
}

// isUniqueViolation recognises unique index violations from both supported
// backends: pgconn reports SQLSTATE 23505, the modernc SQLite driver only a
// formatted message.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isSerializationFailure recognises PostgreSQL serialization/deadlock
// SQLSTATEs (40001, 40P01) raised when concurrent transactions conflict.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
