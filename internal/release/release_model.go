package release

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type releaseModel struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Kind          string            `gorm:"type:text;not null;uniqueIndex:idx_releases_kind_version,priority:1"`
	Version       string            `gorm:"type:text;not null;uniqueIndex:idx_releases_kind_version,priority:2"`
	Filename      string            `gorm:"type:text;not null;uniqueIndex:idx_releases_filename"`
	SHA256        string            `gorm:"type:text;not null"`
	SizeBytes     int64             `gorm:"type:bigint;not null"`
	ReleaseNotes  string            `gorm:"type:text"`
	Meta          datatypes.JSONMap `gorm:"type:jsonb"`
	IsActive      bool              `gorm:"not null;default:false"`
	DownloadCount int64             `gorm:"type:bigint;not null;default:0"`
	// No column type override here: the postgres migration pins timestamptz,
	// while SQLite needs the dialect default so reads scan back into time.Time.
	UploadedAt    time.Time         `gorm:"not null;autoCreateTime"`
}

func (releaseModel) TableName() string { return "releases" }

func (m releaseModel) toAPI() Release {
	return Release{
		ID:            m.ID,
		Kind:          Kind(m.Kind),
		Version:       m.Version,
		Filename:      m.Filename,
		SHA256:        m.SHA256,
		SizeBytes:     m.SizeBytes,
		ReleaseNotes:  m.ReleaseNotes,
		Meta:          mapFromJSONMap(m.Meta),
		IsActive:      m.IsActive,
		DownloadCount: m.DownloadCount,
		UploadedAt:    m.UploadedAt,
	}
}

func toJSONMap(m map[string]any) datatypes.JSONMap {
	if len(m) == 0 {
		return nil
	}
	return datatypes.JSONMap(m)
}

func mapFromJSONMap(m datatypes.JSONMap) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return map[string]any(m)
}

// AutoMigrate creates the registry schema including the partial unique index
// that enforces the single-active-release invariant. PostgreSQL deployments
// normally migrate through pkg/db's embedded goose migrations; this path
// serves SQLite deployments and tests.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&releaseModel{}); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_releases_one_active_per_kind ON releases (kind) WHERE is_active`,
	).Error
}
