package grid

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingHub        = errors.New("broadcast hub is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps an internal failure with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return NewServiceError(operation, reason, cause)
}

// NewServiceError builds a coded failure for an operation. Shared with the
// document engine so both surfaces report errors in one shape.
func NewServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Publisher fans events out to every live subscriber of a room.
type Publisher interface {
	Publish(room string, message any, exclude hub.Conn) error
}

// ServiceConfig wires the grid engine dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Hub        Publisher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the grid mutation engine: cell patches, structural row and
// column operations, sorting, and sheet/workspace management. Persisted
// state is guarded by the store's transactions; the unique coordinate
// index is treated as the sole arbiter of cell identity.
type Service struct {
	db         *gorm.DB
	hub        Publisher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("grid.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.Hub == nil {
		return nil, newServiceError("grid.service.new", "missing_hub", errMissingHub)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError("grid.service.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		hub:        cfg.Hub,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// getWorkspace loads a workspace or reports NotFound.
func (s *Service) getWorkspace(tx *gorm.DB, workspaceID string) (*Workspace, error) {
	var workspace Workspace
	err := tx.Where("id = ?", workspaceID).Take(&workspace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "workspace", ID: workspaceID}
	}
	if err != nil {
		return nil, err
	}
	return &workspace, nil
}

// getSheet loads a sheet scoped to its workspace or reports NotFound.
func (s *Service) getSheet(tx *gorm.DB, workspaceID, sheetID string) (*Sheet, error) {
	var sheet Sheet
	err := tx.Where("id = ? AND workspace_id = ?", sheetID, workspaceID).Take(&sheet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "sheet", ID: sheetID}
	}
	if err != nil {
		return nil, err
	}
	return &sheet, nil
}

// requireWritable enforces the closed-workspace policy for an actor.
func requireWritable(workspace *Workspace, actor *users.User) error {
	if workspace.Status == StatusClosed && !actor.IsPrivileged() {
		return &PermissionError{Reason: "workspace is closed"}
	}
	return nil
}

// readonlyColumns returns the set of column indices the layout marks
// readonly for the sheet.
func (s *Service) readonlyColumns(tx *gorm.DB, sheetID string) (map[int]struct{}, error) {
	var columns []SheetColumn
	if err := tx.Where("sheet_id = ? AND is_readonly = ?", sheetID, true).Find(&columns).Error; err != nil {
		return nil, err
	}
	readonly := make(map[int]struct{}, len(columns))
	for _, column := range columns {
		readonly[column.ColIndex] = struct{}{}
	}
	return readonly, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("grid service error", attrs...)
}
