package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// Release mirrors the registry model. The partial unique index on kind is
// what guarantees at most one active release per kind regardless of how many
// workers race on activation.
type Release struct {
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
	UploadedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Release) TableName() string { return "releases" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(&Release{}); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_releases_one_active_per_kind ON releases (kind) WHERE is_active`,
	).Error
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&Release{})
}
