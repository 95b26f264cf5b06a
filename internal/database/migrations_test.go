package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/docs"
	"github.com/minzkn/openspace/internal/grid"
)

func TestApplyMigrationsBackfillsWorkspaceStatus(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&grid.Workspace{}, &docs.Document{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	workspace := grid.Workspace{
		ID:         "workspace-1",
		Name:       "Legacy",
		Status:     "",
		CreatedBy:  "user-1",
		CreatedAtS: 1700000000,
		UpdatedAtS: 1700000000,
	}
	if err := database.Create(&workspace).Error; err != nil {
		testContext.Fatalf("failed to insert workspace: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored grid.Workspace
	if err := database.Where("id = ?", workspace.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload workspace: %v", err)
	}
	if stored.Status != grid.StatusOpen {
		testContext.Fatalf("expected status backfilled to OPEN, got %q", stored.Status)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillWorkspaceStatus).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&grid.Workspace{}, &docs.Document{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first apply failed: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count records: %v", err)
	}
	if count != 2 {
		testContext.Fatalf("expected 2 migration records, got %d", count)
	}
}
