package grid

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

const (
	opCreateWorkspace = "grid.create_workspace"
	opDeleteWorkspace = "grid.delete_workspace"
	opSetStatus       = "grid.set_workspace_status"
)

// defaultColumnHeaders seed every new sheet with a small editable canvas.
var defaultColumnHeaders = []string{"A", "B", "C", "D", "E"}

type workspaceStatusEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// CreateWorkspace creates a named workspace with one initial sheet.
// Privileged actors only.
func (s *Service) CreateWorkspace(ctx context.Context, name string, actor *users.User) (*Workspace, error) {
	if !actor.IsPrivileged() {
		return nil, &PermissionError{Reason: "requires admin role"}
	}
	if name == "" {
		return nil, &ValidationError{Reason: "workspace name is required"}
	}

	workspaceID, err := s.idProvider.NewID()
	if err != nil {
		return nil, newServiceError(opCreateWorkspace, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	workspace := Workspace{
		ID:         workspaceID,
		Name:       name,
		Status:     StatusOpen,
		CreatedBy:  actor.ID,
		CreatedAtS: now,
		UpdatedAtS: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&workspace).Error; err != nil {
			return newServiceError(opCreateWorkspace, "insert_failed", err)
		}
		_, err := s.createSheet(tx, workspaceID, 0, "Sheet1")
		return err
	})
	if txErr != nil {
		return nil, txErr
	}
	s.logger.Info("workspace created",
		zap.String("workspace_id", workspaceID), zap.String("name", name))
	return &workspace, nil
}

// ListWorkspaces returns every workspace, newest first.
func (s *Service) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var workspaces []Workspace
	err := s.db.WithContext(ctx).Order("created_at_s DESC").Find(&workspaces).Error
	if err != nil {
		return nil, newServiceError("grid.list_workspaces", "query_failed", err)
	}
	return workspaces, nil
}

// GetWorkspace loads one workspace with its sheets and column layouts.
func (s *Service) GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, []Sheet, map[string][]SheetColumn, error) {
	tx := s.db.WithContext(ctx)
	workspace, err := s.getWorkspace(tx, workspaceID)
	if err != nil {
		return nil, nil, nil, err
	}
	var sheets []Sheet
	if err := tx.Where("workspace_id = ?", workspaceID).Order("sheet_index ASC").Find(&sheets).Error; err != nil {
		return nil, nil, nil, newServiceError("grid.get_workspace", "sheet_query_failed", err)
	}
	columns := make(map[string][]SheetColumn, len(sheets))
	for _, sheet := range sheets {
		var sheetColumns []SheetColumn
		if err := tx.Where("sheet_id = ?", sheet.ID).Order("col_index ASC").Find(&sheetColumns).Error; err != nil {
			return nil, nil, nil, newServiceError("grid.get_workspace", "column_query_failed", err)
		}
		columns[sheet.ID] = sheetColumns
	}
	return workspace, sheets, columns, nil
}

// RenameWorkspace updates the display name. Privileged actors only.
func (s *Service) RenameWorkspace(ctx context.Context, workspaceID, name string, actor *users.User) (*Workspace, error) {
	if !actor.IsPrivileged() {
		return nil, &PermissionError{Reason: "requires admin role"}
	}
	if name == "" {
		return nil, &ValidationError{Reason: "workspace name is required"}
	}
	tx := s.db.WithContext(ctx)
	workspace, err := s.getWorkspace(tx, workspaceID)
	if err != nil {
		return nil, err
	}
	workspace.Name = name
	workspace.UpdatedAtS = s.clock().UTC().Unix()
	if err := tx.Model(&Workspace{}).Where("id = ?", workspaceID).
		Updates(map[string]any{"name": workspace.Name, "updated_at_s": workspace.UpdatedAtS}).Error; err != nil {
		return nil, newServiceError("grid.rename_workspace", "update_failed", err)
	}
	return workspace, nil
}

// DeleteWorkspace removes a workspace and all dependent rows.
func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID string, actor *users.User) error {
	if !actor.IsPrivileged() {
		return &PermissionError{Reason: "requires admin role"}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.getWorkspace(tx, workspaceID); err != nil {
			return err
		}
		var sheets []Sheet
		if err := tx.Where("workspace_id = ?", workspaceID).Find(&sheets).Error; err != nil {
			return newServiceError(opDeleteWorkspace, "sheet_query_failed", err)
		}
		for _, sheet := range sheets {
			if err := tx.Where("sheet_id = ?", sheet.ID).Delete(&Cell{}).Error; err != nil {
				return newServiceError(opDeleteWorkspace, "cell_delete_failed", err)
			}
			if err := tx.Where("sheet_id = ?", sheet.ID).Delete(&SheetColumn{}).Error; err != nil {
				return newServiceError(opDeleteWorkspace, "column_delete_failed", err)
			}
		}
		if err := tx.Where("workspace_id = ?", workspaceID).Delete(&Sheet{}).Error; err != nil {
			return newServiceError(opDeleteWorkspace, "sheet_delete_failed", err)
		}
		if err := tx.Where("workspace_id = ?", workspaceID).Delete(&ChangeLog{}).Error; err != nil {
			return newServiceError(opDeleteWorkspace, "changelog_delete_failed", err)
		}
		if err := tx.Where("id = ?", workspaceID).Delete(&Workspace{}).Error; err != nil {
			return newServiceError(opDeleteWorkspace, "delete_failed", err)
		}
		return nil
	})
}

// BatchDeleteWorkspaces deletes every named workspace that exists and
// returns the number removed.
func (s *Service) BatchDeleteWorkspaces(ctx context.Context, ids []string, actor *users.User) (int, error) {
	if !actor.IsPrivileged() {
		return 0, &PermissionError{Reason: "requires admin role"}
	}
	deleted := 0
	for _, id := range ids {
		err := s.DeleteWorkspace(ctx, id, actor)
		if err != nil {
			var notFound *NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// CloseWorkspace transitions OPEN → CLOSED and announces the new status to
// the room. Only privileged actors may close; non-privileged writes are
// rejected while closed.
func (s *Service) CloseWorkspace(ctx context.Context, workspaceID string, actor *users.User) (*Workspace, error) {
	return s.setWorkspaceStatus(ctx, workspaceID, StatusClosed, actor)
}

// ReopenWorkspace transitions CLOSED → OPEN.
func (s *Service) ReopenWorkspace(ctx context.Context, workspaceID string, actor *users.User) (*Workspace, error) {
	return s.setWorkspaceStatus(ctx, workspaceID, StatusOpen, actor)
}

func (s *Service) setWorkspaceStatus(ctx context.Context, workspaceID, status string, actor *users.User) (*Workspace, error) {
	if !actor.IsPrivileged() {
		return nil, &PermissionError{Reason: "requires admin role"}
	}
	tx := s.db.WithContext(ctx)
	workspace, err := s.getWorkspace(tx, workspaceID)
	if err != nil {
		return nil, err
	}
	if workspace.Status == status {
		return nil, &ValidationError{Reason: "workspace already " + status}
	}

	now := s.clock().UTC().Unix()
	updates := map[string]any{"status": status, "updated_at_s": now}
	if status == StatusClosed {
		updates["closed_by"] = actor.ID
		updates["closed_at_s"] = now
		workspace.ClosedBy = &actor.ID
		workspace.ClosedAtS = &now
	} else {
		updates["closed_by"] = nil
		updates["closed_at_s"] = nil
		workspace.ClosedBy = nil
		workspace.ClosedAtS = nil
	}
	if err := tx.Model(&Workspace{}).Where("id = ?", workspaceID).Updates(updates).Error; err != nil {
		return nil, newServiceError(opSetStatus, "update_failed", err)
	}
	workspace.Status = status
	workspace.UpdatedAtS = now

	event := workspaceStatusEvent{Type: hub.EventWorkspaceStatus, Status: status}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opSetStatus, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return workspace, nil
}
