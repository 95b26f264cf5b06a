package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/docs"
	"github.com/minzkn/openspace/internal/grid"
	"github.com/minzkn/openspace/internal/users"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Single writer; SQLite serializes writes anyway and a single
	// connection avoids SQLITE_BUSY under concurrent transactions.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&users.User{},
		&grid.Workspace{},
		&grid.Sheet{},
		&grid.SheetColumn{},
		&grid.Cell{},
		&grid.ChangeLog{},
		&docs.Document{},
		&docs.DocumentContent{},
		&docs.DocumentChangeLog{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
