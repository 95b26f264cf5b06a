package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/docs"
	"github.com/minzkn/openspace/internal/grid"
)

const (
	migrationBackfillWorkspaceStatus = "2026-07-14_backfill_workspace_status"
	migrationBackfillDocumentStatus  = "2026-07-14_backfill_document_status"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillWorkspaceStatus, apply: backfillWorkspaceStatus},
		{name: migrationBackfillDocumentStatus, apply: backfillDocumentStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows created before the open/closed lifecycle existed carry an empty
// status column.
func backfillWorkspaceStatus(db *gorm.DB) error {
	return db.Model(&grid.Workspace{}).
		Where("status = '' OR status IS NULL").
		Update("status", grid.StatusOpen).Error
}

func backfillDocumentStatus(db *gorm.DB) error {
	return db.Model(&docs.Document{}).
		Where("status = '' OR status IS NULL").
		Update("status", docs.StatusOpen).Error
}
