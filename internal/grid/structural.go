package grid

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

const (
	opInsertRows = "grid.insert_rows"
	opDeleteRows = "grid.delete_rows"
	opInsertCols = "grid.insert_cols"
	opDeleteCols = "grid.delete_cols"
)

type rowInsertEvent struct {
	Type      string `json:"type"`
	SheetID   string `json:"sheet_id"`
	RowIndex  int    `json:"row_index"`
	Count     int    `json:"count"`
	UpdatedBy string `json:"updated_by"`
}

type rowDeleteEvent struct {
	Type       string `json:"type"`
	SheetID    string `json:"sheet_id"`
	RowIndices []int  `json:"row_indices"`
	UpdatedBy  string `json:"updated_by"`
}

type colInsertEvent struct {
	Type      string `json:"type"`
	SheetID   string `json:"sheet_id"`
	ColIndex  int    `json:"col_index"`
	Count     int    `json:"count"`
	UpdatedBy string `json:"updated_by"`
}

type colDeleteEvent struct {
	Type       string `json:"type"`
	SheetID    string `json:"sheet_id"`
	ColIndices []int  `json:"col_indices"`
	UpdatedBy  string `json:"updated_by"`
}

// InsertRows shifts every cell at or below the insertion point down by
// count, rekeying merges, row heights, outline levels and hidden rows the
// same way. direction "below" resolves the anchor to the next row. The
// cell shift is two-phase: affected rows are first staged into a disjoint
// negative key space, then committed to their final index, so the unique
// coordinate constraint holds through every intermediate state.
func (s *Service) InsertRows(ctx context.Context, workspaceID, sheetID string, rowIndex, count int, direction string, actor *users.User) (int, error) {
	at := rowIndex
	if direction == "below" {
		at++
	}
	count = clamp(count, 1, MaxRowInsertCount)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workspace, err := s.getWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		if err := requireWritable(workspace, actor); err != nil {
			return err
		}
		sheet, err := s.getSheet(tx, workspaceID, sheetID)
		if err != nil {
			return err
		}

		if err := tx.Model(&Cell{}).
			Where("sheet_id = ? AND row_index >= ?", sheetID, at).
			Update("row_index", gorm.Expr("row_index - ?", stagingOffset)).Error; err != nil {
			return newServiceError(opInsertRows, "stage_failed", err)
		}
		if err := tx.Model(&Cell{}).
			Where("sheet_id = ? AND row_index < ?", sheetID, -stagingOffset/10*9).
			Update("row_index", gorm.Expr("row_index + ?", stagingOffset+count)).Error; err != nil {
			return newServiceError(opInsertRows, "commit_failed", err)
		}

		merges := parseMerges(sheet.MergesJSON)
		for i := range merges {
			if merges[i].StartRow >= at {
				merges[i].StartRow += count
			}
			if merges[i].EndRow >= at {
				merges[i].EndRow += count
			}
		}
		sheet.MergesJSON = encodeMerges(merges)
		sheet.RowHeightsJSON = encodeIndexFloatMap(shiftKeys(parseIndexFloatMap(sheet.RowHeightsJSON), at, count))
		sheet.RowOutlineJSON = encodeIndexIntMap(shiftKeys(parseIndexIntMap(sheet.RowOutlineJSON), at, count))
		sheet.HiddenRowsJSON = encodeIndexList(shiftList(parseIndexList(sheet.HiddenRowsJSON), at, count))

		return s.saveSheetMeta(tx, sheet)
	})
	if txErr != nil {
		return 0, txErr
	}

	event := rowInsertEvent{
		Type:      hub.EventRowInsert,
		SheetID:   sheetID,
		RowIndex:  at,
		Count:     count,
		UpdatedBy: actor.Username,
	}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opInsertRows, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return count, nil
}

// DeleteRows removes the named rows and compacts the survivors: each
// remaining cell shifts up by the number of deleted rows strictly below
// it. Merges fully inside deleted rows are dropped; partially covered
// ranges shrink; lower ranges shift up.
func (s *Service) DeleteRows(ctx context.Context, workspaceID, sheetID string, rowIndices []int, actor *users.User) (int, error) {
	indices := dedupeSorted(rowIndices)
	if len(indices) == 0 {
		return 0, nil
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workspace, err := s.getWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		if err := requireWritable(workspace, actor); err != nil {
			return err
		}
		sheet, err := s.getSheet(tx, workspaceID, sheetID)
		if err != nil {
			return err
		}

		if err := tx.Where("sheet_id = ? AND row_index IN ?", sheetID, indices).
			Delete(&Cell{}).Error; err != nil {
			return newServiceError(opDeleteRows, "delete_failed", err)
		}

		// Stage survivors above the first deleted row, then commit each to
		// its index-dependent final position.
		if err := tx.Model(&Cell{}).
			Where("sheet_id = ? AND row_index > ?", sheetID, indices[0]).
			Update("row_index", gorm.Expr("row_index - ?", stagingOffset)).Error; err != nil {
			return newServiceError(opDeleteRows, "stage_failed", err)
		}
		var staged []Cell
		if err := tx.Where("sheet_id = ? AND row_index < ?", sheetID, -stagingOffset/10*9).
			Find(&staged).Error; err != nil {
			return newServiceError(opDeleteRows, "stage_query_failed", err)
		}
		for _, cell := range staged {
			original := cell.RowIndex + stagingOffset
			final := original - countBelow(indices, original)
			if err := tx.Model(&Cell{}).Where("id = ?", cell.ID).
				Update("row_index", final).Error; err != nil {
				return newServiceError(opDeleteRows, "commit_failed", err)
			}
		}

		sheet.MergesJSON = encodeMerges(deleteFromMergesRows(parseMerges(sheet.MergesJSON), indices))
		sheet.RowHeightsJSON = encodeIndexFloatMap(deleteKeys(parseIndexFloatMap(sheet.RowHeightsJSON), indices))
		sheet.RowOutlineJSON = encodeIndexIntMap(deleteKeys(parseIndexIntMap(sheet.RowOutlineJSON), indices))
		sheet.HiddenRowsJSON = encodeIndexList(deleteFromList(parseIndexList(sheet.HiddenRowsJSON), indices))

		return s.saveSheetMeta(tx, sheet)
	})
	if txErr != nil {
		return 0, txErr
	}

	event := rowDeleteEvent{
		Type:       hub.EventRowDelete,
		SheetID:    sheetID,
		RowIndices: indices,
		UpdatedBy:  actor.Username,
	}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opDeleteRows, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return len(indices), nil
}

// InsertCols mirrors InsertRows on the column axis, rekeying merge column
// bounds, column widths, outline levels and hidden columns.
func (s *Service) InsertCols(ctx context.Context, workspaceID, sheetID string, colIndex, count int, direction string, actor *users.User) (int, error) {
	at := colIndex
	if direction == "after" {
		at++
	}
	count = clamp(count, 1, MaxColInsertCount)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workspace, err := s.getWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		if err := requireWritable(workspace, actor); err != nil {
			return err
		}
		sheet, err := s.getSheet(tx, workspaceID, sheetID)
		if err != nil {
			return err
		}

		if err := tx.Model(&Cell{}).
			Where("sheet_id = ? AND col_index >= ?", sheetID, at).
			Update("col_index", gorm.Expr("col_index - ?", stagingOffset)).Error; err != nil {
			return newServiceError(opInsertCols, "stage_failed", err)
		}
		if err := tx.Model(&Cell{}).
			Where("sheet_id = ? AND col_index < ?", sheetID, -stagingOffset/10*9).
			Update("col_index", gorm.Expr("col_index + ?", stagingOffset+count)).Error; err != nil {
			return newServiceError(opInsertCols, "commit_failed", err)
		}

		merges := parseMerges(sheet.MergesJSON)
		for i := range merges {
			if merges[i].StartCol >= at {
				merges[i].StartCol += count
			}
			if merges[i].EndCol >= at {
				merges[i].EndCol += count
			}
		}
		sheet.MergesJSON = encodeMerges(merges)
		sheet.ColWidthsJSON = encodeIndexIntMap(shiftKeys(parseIndexIntMap(sheet.ColWidthsJSON), at, count))
		sheet.ColOutlineJSON = encodeIndexIntMap(shiftKeys(parseIndexIntMap(sheet.ColOutlineJSON), at, count))
		sheet.HiddenColsJSON = encodeIndexList(shiftList(parseIndexList(sheet.HiddenColsJSON), at, count))

		return s.saveSheetMeta(tx, sheet)
	})
	if txErr != nil {
		return 0, txErr
	}

	event := colInsertEvent{
		Type:      hub.EventColInsert,
		SheetID:   sheetID,
		ColIndex:  at,
		Count:     count,
		UpdatedBy: actor.Username,
	}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opInsertCols, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return count, nil
}

// DeleteCols mirrors DeleteRows on the column axis.
func (s *Service) DeleteCols(ctx context.Context, workspaceID, sheetID string, colIndices []int, actor *users.User) (int, error) {
	indices := dedupeSorted(colIndices)
	if len(indices) == 0 {
		return 0, nil
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workspace, err := s.getWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		if err := requireWritable(workspace, actor); err != nil {
			return err
		}
		sheet, err := s.getSheet(tx, workspaceID, sheetID)
		if err != nil {
			return err
		}

		if err := tx.Where("sheet_id = ? AND col_index IN ?", sheetID, indices).
			Delete(&Cell{}).Error; err != nil {
			return newServiceError(opDeleteCols, "delete_failed", err)
		}

		if err := tx.Model(&Cell{}).
			Where("sheet_id = ? AND col_index > ?", sheetID, indices[0]).
			Update("col_index", gorm.Expr("col_index - ?", stagingOffset)).Error; err != nil {
			return newServiceError(opDeleteCols, "stage_failed", err)
		}
		var staged []Cell
		if err := tx.Where("sheet_id = ? AND col_index < ?", sheetID, -stagingOffset/10*9).
			Find(&staged).Error; err != nil {
			return newServiceError(opDeleteCols, "stage_query_failed", err)
		}
		for _, cell := range staged {
			original := cell.ColIndex + stagingOffset
			final := original - countBelow(indices, original)
			if err := tx.Model(&Cell{}).Where("id = ?", cell.ID).
				Update("col_index", final).Error; err != nil {
				return newServiceError(opDeleteCols, "commit_failed", err)
			}
		}

		sheet.MergesJSON = encodeMerges(deleteFromMergesCols(parseMerges(sheet.MergesJSON), indices))
		sheet.ColWidthsJSON = encodeIndexIntMap(deleteKeys(parseIndexIntMap(sheet.ColWidthsJSON), indices))
		sheet.ColOutlineJSON = encodeIndexIntMap(deleteKeys(parseIndexIntMap(sheet.ColOutlineJSON), indices))
		sheet.HiddenColsJSON = encodeIndexList(deleteFromList(parseIndexList(sheet.HiddenColsJSON), indices))

		return s.saveSheetMeta(tx, sheet)
	})
	if txErr != nil {
		return 0, txErr
	}

	event := colDeleteEvent{
		Type:       hub.EventColDelete,
		SheetID:    sheetID,
		ColIndices: indices,
		UpdatedBy:  actor.Username,
	}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opDeleteCols, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return len(indices), nil
}

func (s *Service) saveSheetMeta(tx *gorm.DB, sheet *Sheet) error {
	updates := map[string]any{
		"merges":              sheet.MergesJSON,
		"row_heights":         sheet.RowHeightsJSON,
		"col_widths":          sheet.ColWidthsJSON,
		"row_outline":         sheet.RowOutlineJSON,
		"col_outline":         sheet.ColOutlineJSON,
		"hidden_rows":         sheet.HiddenRowsJSON,
		"hidden_cols":         sheet.HiddenColsJSON,
		"conditional_formats": sheet.ConditionalFmtsJSON,
		"validations":         sheet.ValidationsJSON,
		"freeze_panes":        sheet.FreezeJSON,
		"protected":           sheet.Protected,
	}
	return tx.Model(&Sheet{}).Where("id = ?", sheet.ID).Updates(updates).Error
}

// deleteFromMergesRows rekeys merge row bounds after a row deletion: a
// range entirely inside deleted rows is dropped, a partially covered range
// shrinks, and ranges below shift up. Degenerate results are dropped.
func deleteFromMergesRows(merges []MergeRange, deleted []int) []MergeRange {
	var kept []MergeRange
	for _, m := range merges {
		m.StartRow -= countBelow(deleted, m.StartRow)
		m.EndRow -= countAtOrBelow(deleted, m.EndRow)
		if m.IsDegenerate() {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func deleteFromMergesCols(merges []MergeRange, deleted []int) []MergeRange {
	var kept []MergeRange
	for _, m := range merges {
		m.StartCol -= countBelow(deleted, m.StartCol)
		m.EndCol -= countAtOrBelow(deleted, m.EndCol)
		if m.IsDegenerate() {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// shiftKeys rekeys a sparse index map for an insert: keys at or after the
// insertion point move by count.
func shiftKeys[V any](values map[int]V, at, count int) map[int]V {
	if len(values) == 0 {
		return nil
	}
	result := make(map[int]V, len(values))
	for index, value := range values {
		if index >= at {
			result[index+count] = value
		} else {
			result[index] = value
		}
	}
	return result
}

// deleteKeys drops entries for deleted indices and rekeys the rest by the
// count of deletions strictly below each key.
func deleteKeys[V any](values map[int]V, deleted []int) map[int]V {
	if len(values) == 0 {
		return nil
	}
	result := make(map[int]V, len(values))
	for index, value := range values {
		if containsSorted(deleted, index) {
			continue
		}
		result[index-countBelow(deleted, index)] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func shiftList(indices []int, at, count int) []int {
	if len(indices) == 0 {
		return nil
	}
	result := make([]int, 0, len(indices))
	for _, index := range indices {
		if index >= at {
			result = append(result, index+count)
		} else {
			result = append(result, index)
		}
	}
	sort.Ints(result)
	return result
}

func deleteFromList(indices, deleted []int) []int {
	if len(indices) == 0 {
		return nil
	}
	var result []int
	for _, index := range indices {
		if containsSorted(deleted, index) {
			continue
		}
		result = append(result, index)
	}
	for i := range result {
		result[i] -= countBelow(deleted, result[i])
	}
	sort.Ints(result)
	return result
}

func dedupeSorted(indices []int) []int {
	seen := make(map[int]struct{}, len(indices))
	var result []int
	for _, index := range indices {
		if index < 0 {
			continue
		}
		if _, ok := seen[index]; ok {
			continue
		}
		seen[index] = struct{}{}
		result = append(result, index)
	}
	sort.Ints(result)
	return result
}

func countBelow(sorted []int, value int) int {
	return sort.SearchInts(sorted, value)
}

func countAtOrBelow(sorted []int, value int) int {
	return sort.SearchInts(sorted, value+1)
}

func containsSorted(sorted []int, value int) bool {
	i := sort.SearchInts(sorted, value)
	return i < len(sorted) && sorted[i] == value
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
