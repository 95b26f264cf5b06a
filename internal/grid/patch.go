package grid

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

const opApplyPatches = "grid.apply_patches"

// allowedLinkPrefixes are the only hyperlink schemes stored. Anything else
// (javascript:, data:, file:, ...) is discarded as absent.
var allowedLinkPrefixes = []string{"http://", "https://", "mailto:", "#"}

// Patch is one cell's proposed value/style/comment/hyperlink change. Nil
// fields leave the stored facet untouched.
type Patch struct {
	Row       int     `json:"row"`
	Col       int     `json:"col"`
	Value     *string `json:"value"`
	Style     *string `json:"style"`
	Comment   *string `json:"comment"`
	Hyperlink *string `json:"hyperlink"`
}

// AppliedPatch reports the resulting state of a patch that made it through
// bounds and policy checks.
type AppliedPatch struct {
	Row       int     `json:"row"`
	Col       int     `json:"col"`
	Value     *string `json:"value"`
	Style     *string `json:"style"`
	Comment   *string `json:"comment"`
	Hyperlink *string `json:"hyperlink"`
}

type batchPatchEvent struct {
	Type      string         `json:"type"`
	SheetID   string         `json:"sheet_id"`
	Patches   []AppliedPatch `json:"patches"`
	UpdatedBy string         `json:"updated_by"`
}

// SanitizeHyperlink keeps a link only when it carries an allowed scheme.
func SanitizeHyperlink(link *string) *string {
	if link == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*link)
	if trimmed == "" {
		return nil
	}
	for _, prefix := range allowedLinkPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return &trimmed
		}
	}
	return nil
}

// ApplyPatches validates and applies a patch batch best-effort: individual
// patches are skipped on bounds or policy violations and the applied
// subset is returned. A non-empty result is broadcast to the workspace
// room as one batch_patch message, excluding origin when the mutation
// arrived over a live connection.
func (s *Service) ApplyPatches(ctx context.Context, workspaceID, sheetID string, patches []Patch, actor *users.User, origin hub.Conn) ([]AppliedPatch, error) {
	var applied []AppliedPatch

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workspace, err := s.getWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		sheet, err := s.getSheet(tx, workspaceID, sheetID)
		if err != nil {
			return err
		}
		if err := requireWritable(workspace, actor); err != nil {
			return err
		}

		readonly, err := s.readonlyColumns(tx, sheetID)
		if err != nil {
			return newServiceError(opApplyPatches, "readonly_query_failed", err)
		}

		now := s.clock().UTC().Unix()
		for _, patch := range patches {
			if patch.Row < 0 || patch.Row >= MaxRows {
				continue
			}
			if patch.Col < 0 || patch.Col >= MaxCols {
				continue
			}
			if _, ok := readonly[patch.Col]; ok && !actor.IsPrivileged() {
				continue
			}

			var existing Cell
			var existingPtr *Cell
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("sheet_id = ? AND row_index = ? AND col_index = ?", sheetID, patch.Row, patch.Col).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				s.logError(opApplyPatches, "cell_select_failed", err,
					zap.String("sheet_id", sheetID), zap.Int("row", patch.Row), zap.Int("col", patch.Col))
				return newServiceError(opApplyPatches, "cell_select_failed", err)
			} else {
				existingPtr = &existing
			}

			// Locked cells on protected sheets reject non-privileged writes.
			if sheet.Protected && existingPtr != nil && styleLocked(existingPtr.Style) && !actor.IsPrivileged() {
				continue
			}

			var oldValue *string
			if existingPtr != nil {
				oldValue = existingPtr.Value
			}

			link := patch.Hyperlink
			if link != nil {
				link = SanitizeHyperlink(link)
			}

			if existingPtr != nil {
				updates := map[string]any{
					"updated_by":   actor.ID,
					"updated_at_s": now,
				}
				if patch.Value != nil {
					updates["value"] = *patch.Value
				}
				if patch.Style != nil {
					updates["style"] = *patch.Style
				}
				if patch.Comment != nil {
					updates["comment"] = nullableText(*patch.Comment)
				}
				if patch.Hyperlink != nil {
					updates["hyperlink"] = link
				}
				if err := tx.Model(&Cell{}).Where("id = ?", existingPtr.ID).Updates(updates).Error; err != nil {
					return newServiceError(opApplyPatches, "cell_update_failed", err)
				}
			} else {
				cellID, err := s.idProvider.NewID()
				if err != nil {
					return newServiceError(opApplyPatches, "id_generation_failed", err)
				}
				cell := Cell{
					ID:         cellID,
					SheetID:    sheetID,
					RowIndex:   patch.Row,
					ColIndex:   patch.Col,
					Value:      patch.Value,
					Style:      patch.Style,
					Hyperlink:  link,
					UpdatedBy:  actor.ID,
					UpdatedAtS: now,
				}
				if patch.Comment != nil {
					cell.Comment = nullableText(*patch.Comment)
				}
				if err := tx.Create(&cell).Error; err != nil {
					return newServiceError(opApplyPatches, "cell_insert_failed", err)
				}
			}

			// Audit value changes only; absent and empty are distinct values.
			if patch.Value != nil && !textEqual(oldValue, patch.Value) {
				changeID, err := s.idProvider.NewID()
				if err != nil {
					return newServiceError(opApplyPatches, "id_generation_failed", err)
				}
				entry := ChangeLog{
					ID:          changeID,
					WorkspaceID: workspaceID,
					SheetID:     sheetID,
					UserID:      actor.ID,
					RowIndex:    patch.Row,
					ColIndex:    patch.Col,
					OldValue:    oldValue,
					NewValue:    patch.Value,
					ChangedAtS:  now,
				}
				if err := tx.Create(&entry).Error; err != nil {
					return newServiceError(opApplyPatches, "audit_insert_failed", err)
				}
			}

			applied = append(applied, AppliedPatch{
				Row:       patch.Row,
				Col:       patch.Col,
				Value:     patch.Value,
				Style:     patch.Style,
				Comment:   patch.Comment,
				Hyperlink: link,
			})
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	if len(applied) > 0 {
		event := batchPatchEvent{
			Type:      hub.EventBatchPatch,
			SheetID:   sheetID,
			Patches:   applied,
			UpdatedBy: actor.Username,
		}
		if err := s.hub.Publish(workspaceID, event, origin); err != nil {
			s.logError(opApplyPatches, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
		}
	}
	return applied, nil
}

// ListChanges returns the latest value-change audit entries for a workspace.
func (s *Service) ListChanges(ctx context.Context, workspaceID string, limit int) ([]ChangeLog, error) {
	if _, err := s.getWorkspace(s.db.WithContext(ctx), workspaceID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var entries []ChangeLog
	err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("changed_at_s DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, newServiceError("grid.list_changes", "query_failed", err)
	}
	return entries, nil
}

// nullableText maps "" to an absent pointer, matching the original store
// shape where clearing a comment removes it.
func nullableText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func textEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
