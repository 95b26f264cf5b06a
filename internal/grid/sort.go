package grid

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

const opSortRows = "grid.sort_rows"

type reloadEvent struct {
	Type      string `json:"type"`
	SheetID   string `json:"sheet_id"`
	UpdatedBy string `json:"updated_by"`
}

// sortKey is the comparison key derived from the stored value at the sort
// column: numeric parse takes priority over case-insensitive lexical
// comparison, and absent/empty values sort last regardless of direction.
type sortKey struct {
	empty   bool
	numeric bool
	number  float64
	text    string
}

func makeSortKey(value *string) sortKey {
	if value == nil || *value == "" {
		return sortKey{empty: true}
	}
	if number, err := strconv.ParseFloat(strings.TrimSpace(*value), 64); err == nil {
		return sortKey{numeric: true, number: number}
	}
	return sortKey{text: strings.ToLower(*value)}
}

// less orders a before b for an ascending sort.
func (a sortKey) less(b sortKey) bool {
	switch {
	case a.numeric && b.numeric:
		return a.number < b.number
	case a.numeric != b.numeric:
		return a.numeric
	default:
		return a.text < b.text
	}
}

// SortRows reorders the sheet's occupied rows by the values of one column.
// The operation is all-or-nothing: any merge range spanning more than one
// row makes row identity ambiguous and rejects the whole call. Rows are
// permuted with the same two-phase staged remap as insert, and row heights
// follow the permutation. Clients receive a full reload event because row
// identity is not preserved.
func (s *Service) SortRows(ctx context.Context, workspaceID, sheetID string, column int, ascending bool, actor *users.User) error {
	if column < 0 || column >= MaxCols {
		return &ValidationError{Reason: "sort column out of range"}
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

		for _, m := range parseMerges(sheet.MergesJSON) {
			if m.SpansMultipleRows() {
				return &ValidationError{Reason: "cannot sort a sheet with merged cells spanning multiple rows"}
			}
		}

		var cells []Cell
		if err := tx.Where("sheet_id = ?", sheetID).Find(&cells).Error; err != nil {
			return newServiceError(opSortRows, "cell_query_failed", err)
		}
		if len(cells) == 0 {
			return nil
		}

		keyByRow := make(map[int]sortKey)
		for _, cell := range cells {
			if _, ok := keyByRow[cell.RowIndex]; !ok {
				keyByRow[cell.RowIndex] = sortKey{empty: true}
			}
			if cell.ColIndex == column {
				keyByRow[cell.RowIndex] = makeSortKey(cell.Value)
			}
		}

		slots := make([]int, 0, len(keyByRow))
		for row := range keyByRow {
			slots = append(slots, row)
		}
		sort.Ints(slots)

		ordered := make([]int, len(slots))
		copy(ordered, slots)
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := keyByRow[ordered[i]], keyByRow[ordered[j]]
			if a.empty || b.empty {
				return !a.empty && b.empty
			}
			if ascending {
				return a.less(b)
			}
			return b.less(a)
		})

		// perm maps each occupied row to the slot its content moves into.
		perm := make(map[int]int, len(slots))
		for position, row := range ordered {
			perm[row] = slots[position]
		}

		if err := tx.Model(&Cell{}).
			Where("sheet_id = ? AND row_index IN ?", sheetID, slots).
			Update("row_index", gorm.Expr("row_index - ?", stagingOffset)).Error; err != nil {
			return newServiceError(opSortRows, "stage_failed", err)
		}
		var staged []Cell
		if err := tx.Where("sheet_id = ? AND row_index < ?", sheetID, -stagingOffset/10*9).
			Find(&staged).Error; err != nil {
			return newServiceError(opSortRows, "stage_query_failed", err)
		}
		for _, cell := range staged {
			original := cell.RowIndex + stagingOffset
			if err := tx.Model(&Cell{}).Where("id = ?", cell.ID).
				Update("row_index", perm[original]).Error; err != nil {
				return newServiceError(opSortRows, "commit_failed", err)
			}
		}

		heights := parseIndexFloatMap(sheet.RowHeightsJSON)
		if len(heights) > 0 {
			moved := make(map[int]float64, len(heights))
			for row, height := range heights {
				if target, ok := perm[row]; ok {
					moved[target] = height
				} else {
					moved[row] = height
				}
			}
			sheet.RowHeightsJSON = encodeIndexFloatMap(moved)
		}

		return s.saveSheetMeta(tx, sheet)
	})
	if txErr != nil {
		return txErr
	}

	event := reloadEvent{Type: hub.EventReload, SheetID: sheetID, UpdatedBy: actor.Username}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opSortRows, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return nil
}
