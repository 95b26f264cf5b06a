package grid

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

const (
	opAddSheet    = "grid.add_sheet"
	opDeleteSheet = "grid.delete_sheet"
	opSheetConfig = "grid.update_sheet_config"
	opSnapshot    = "grid.snapshot"
)

// Minimum canvas reported by snapshots so empty sheets still render a grid.
const (
	minSnapshotRows = 100
	minSnapshotCols = 5
)

// ConfigFacet names one sheet metadata facet updatable through the config
// endpoint. Each facet persists independently and degrades independently.
type ConfigFacet string

const (
	FacetMerges             ConfigFacet = "merges"
	FacetRowHeights         ConfigFacet = "row_heights"
	FacetColWidths          ConfigFacet = "col_widths"
	FacetFreeze             ConfigFacet = "freeze"
	FacetRowOutline         ConfigFacet = "row_outline"
	FacetColOutline         ConfigFacet = "col_outline"
	FacetHiddenRows         ConfigFacet = "hidden_rows"
	FacetHiddenCols         ConfigFacet = "hidden_cols"
	FacetConditionalFormats ConfigFacet = "conditional_formats"
	FacetValidations        ConfigFacet = "validations"
	FacetProtection         ConfigFacet = "protection"
)

type sheetAddedEvent struct {
	Type  string    `json:"type"`
	Sheet SheetInfo `json:"sheet"`
}

type sheetRenamedEvent struct {
	Type      string `json:"type"`
	SheetID   string `json:"sheet_id"`
	SheetName string `json:"sheet_name"`
}

type sheetDeletedEvent struct {
	Type    string `json:"type"`
	SheetID string `json:"sheet_id"`
}

type sheetConfigUpdatedEvent struct {
	Type      string `json:"type"`
	SheetID   string `json:"sheet_id"`
	Facet     string `json:"facet"`
	UpdatedBy string `json:"updated_by"`
	TabID     string `json:"tab_id"`
}

// SheetInfo is the wire representation of a sheet with its column layout.
type SheetInfo struct {
	ID         string        `json:"id"`
	SheetIndex int           `json:"sheet_index"`
	SheetName  string        `json:"sheet_name"`
	Columns    []SheetColumn `json:"columns"`
}

// SheetSnapshot is the full client-facing state of one sheet. Metadata
// facets that fail to parse degrade to their empty defaults.
type SheetSnapshot struct {
	Cells              [][]string        `json:"cells"`
	NumRows            int               `json:"num_rows"`
	NumCols            int               `json:"num_cols"`
	Merges             []MergeRange      `json:"merges"`
	RowHeights         map[int]float64   `json:"row_heights"`
	ColWidths          map[int]int       `json:"col_widths"`
	Freeze             FreezePane        `json:"freeze"`
	RowOutline         map[int]int       `json:"row_outline"`
	ColOutline         map[int]int       `json:"col_outline"`
	HiddenRows         []int             `json:"hidden_rows"`
	HiddenCols         []int             `json:"hidden_cols"`
	Styles             map[string]string `json:"styles"`
	Comments           map[string]string `json:"comments"`
	Hyperlinks         map[string]string `json:"hyperlinks"`
	ConditionalFormats []json.RawMessage `json:"conditional_formats"`
	Validations        []json.RawMessage `json:"validations"`
	Protected          bool              `json:"protected"`
}

// AddSheet appends a sheet with the default column layout. Workspaces are
// capped at MaxSheets sheets.
func (s *Service) AddSheet(ctx context.Context, workspaceID, sheetName string, actor *users.User) (*SheetInfo, error) {
	if !actor.IsPrivileged() {
		return nil, &PermissionError{Reason: "requires admin role"}
	}
	if sheetName == "" {
		return nil, &ValidationError{Reason: "sheet name is required"}
	}

	var info *SheetInfo
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.getWorkspace(tx, workspaceID); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&Sheet{}).Where("workspace_id = ?", workspaceID).Count(&count).Error; err != nil {
			return newServiceError(opAddSheet, "count_failed", err)
		}
		if count >= MaxSheets {
			return &ValidationError{Reason: fmt.Sprintf("workspace is limited to %d sheets", MaxSheets)}
		}

		var maxIndex int
		row := tx.Model(&Sheet{}).Where("workspace_id = ?", workspaceID).
			Select("COALESCE(MAX(sheet_index), -1)").Row()
		if err := row.Scan(&maxIndex); err != nil {
			return newServiceError(opAddSheet, "index_query_failed", err)
		}

		created, err := s.createSheet(tx, workspaceID, maxIndex+1, sheetName)
		if err != nil {
			return err
		}
		info = created
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	event := sheetAddedEvent{Type: hub.EventSheetAdded, Sheet: *info}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opAddSheet, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return info, nil
}

// createSheet inserts a sheet plus its default columns inside tx.
func (s *Service) createSheet(tx *gorm.DB, workspaceID string, index int, name string) (*SheetInfo, error) {
	sheetID, err := s.idProvider.NewID()
	if err != nil {
		return nil, newServiceError(opAddSheet, "id_generation_failed", err)
	}
	sheet := Sheet{
		ID:          sheetID,
		WorkspaceID: workspaceID,
		SheetIndex:  index,
		SheetName:   name,
	}
	if err := tx.Create(&sheet).Error; err != nil {
		return nil, newServiceError(opAddSheet, "insert_failed", err)
	}

	columns := make([]SheetColumn, 0, len(defaultColumnHeaders))
	for i, header := range defaultColumnHeaders {
		columnID, err := s.idProvider.NewID()
		if err != nil {
			return nil, newServiceError(opAddSheet, "id_generation_failed", err)
		}
		column := SheetColumn{
			ID:       columnID,
			SheetID:  sheetID,
			ColIndex: i,
			Header:   header,
			ColType:  "text",
			Width:    120,
		}
		if err := tx.Create(&column).Error; err != nil {
			return nil, newServiceError(opAddSheet, "column_insert_failed", err)
		}
		columns = append(columns, column)
	}

	return &SheetInfo{ID: sheetID, SheetIndex: index, SheetName: name, Columns: columns}, nil
}

// RenameSheet updates the display name and announces it to the room.
func (s *Service) RenameSheet(ctx context.Context, workspaceID, sheetID, name string, actor *users.User) error {
	if !actor.IsPrivileged() {
		return &PermissionError{Reason: "requires admin role"}
	}
	if name == "" {
		return &ValidationError{Reason: "sheet name is required"}
	}
	tx := s.db.WithContext(ctx)
	if _, err := s.getSheet(tx, workspaceID, sheetID); err != nil {
		return err
	}
	if err := tx.Model(&Sheet{}).Where("id = ?", sheetID).Update("sheet_name", name).Error; err != nil {
		return newServiceError("grid.rename_sheet", "update_failed", err)
	}

	event := sheetRenamedEvent{Type: hub.EventSheetRenamed, SheetID: sheetID, SheetName: name}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError("grid.rename_sheet", "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return nil
}

// DeleteSheet removes a sheet and its cells. The last sheet of a
// workspace cannot be deleted.
func (s *Service) DeleteSheet(ctx context.Context, workspaceID, sheetID string, actor *users.User) error {
	if !actor.IsPrivileged() {
		return &PermissionError{Reason: "requires admin role"}
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.getWorkspace(tx, workspaceID); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&Sheet{}).Where("workspace_id = ?", workspaceID).Count(&count).Error; err != nil {
			return newServiceError(opDeleteSheet, "count_failed", err)
		}
		if count <= 1 {
			return &ValidationError{Reason: "cannot delete the last sheet"}
		}
		if _, err := s.getSheet(tx, workspaceID, sheetID); err != nil {
			return err
		}
		if err := tx.Where("sheet_id = ?", sheetID).Delete(&Cell{}).Error; err != nil {
			return newServiceError(opDeleteSheet, "cell_delete_failed", err)
		}
		if err := tx.Where("sheet_id = ?", sheetID).Delete(&SheetColumn{}).Error; err != nil {
			return newServiceError(opDeleteSheet, "column_delete_failed", err)
		}
		if err := tx.Where("id = ?", sheetID).Delete(&Sheet{}).Error; err != nil {
			return newServiceError(opDeleteSheet, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	event := sheetDeletedEvent{Type: hub.EventSheetDeleted, SheetID: sheetID}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opDeleteSheet, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return nil
}

// UpdateSheetConfig persists one metadata facet from its raw JSON payload
// and announces the change. The raw value is validated by parsing it the
// same lenient way readers do, then stored normalized.
func (s *Service) UpdateSheetConfig(ctx context.Context, workspaceID, sheetID string, facet ConfigFacet, raw string, tabID string, actor *users.User) error {
	if !actor.IsPrivileged() {
		return &PermissionError{Reason: "requires admin role"}
	}

	tx := s.db.WithContext(ctx)
	if _, err := s.getSheet(tx, workspaceID, sheetID); err != nil {
		return err
	}

	var column string
	var value any
	switch facet {
	case FacetMerges:
		merges := parseMerges(raw)
		kept := merges[:0]
		for _, m := range merges {
			if m.IsDegenerate() {
				continue
			}
			kept = append(kept, m)
		}
		column, value = "merges", encodeMerges(kept)
	case FacetRowHeights:
		column, value = "row_heights", encodeIndexFloatMap(parseIndexFloatMap(raw))
	case FacetColWidths:
		column, value = "col_widths", encodeIndexIntMap(parseIndexIntMap(raw))
	case FacetFreeze:
		freeze := parseFreeze(raw)
		if freeze == (FreezePane{}) {
			column, value = "freeze_panes", ""
		} else {
			data, err := json.Marshal(freeze)
			if err != nil {
				return newServiceError(opSheetConfig, "encode_failed", err)
			}
			column, value = "freeze_panes", string(data)
		}
	case FacetRowOutline:
		column, value = "row_outline", encodeIndexIntMap(parseIndexIntMap(raw))
	case FacetColOutline:
		column, value = "col_outline", encodeIndexIntMap(parseIndexIntMap(raw))
	case FacetHiddenRows:
		column, value = "hidden_rows", encodeIndexList(parseIndexList(raw))
	case FacetHiddenCols:
		column, value = "hidden_cols", encodeIndexList(parseIndexList(raw))
	case FacetConditionalFormats:
		column, value = "conditional_formats", encodeRuleList(parseRuleList(raw))
	case FacetValidations:
		column, value = "validations", encodeRuleList(parseRuleList(raw))
	case FacetProtection:
		var protected bool
		if err := json.Unmarshal([]byte(raw), &protected); err != nil {
			protected = false
		}
		column, value = "protected", protected
	default:
		return &ValidationError{Reason: "unknown config facet: " + string(facet)}
	}

	if err := tx.Model(&Sheet{}).Where("id = ?", sheetID).Update(column, value).Error; err != nil {
		return newServiceError(opSheetConfig, "update_failed", err)
	}

	event := sheetConfigUpdatedEvent{
		Type:      hub.EventSheetConfigUpdated,
		SheetID:   sheetID,
		Facet:     string(facet),
		UpdatedBy: actor.Username,
		TabID:     tabID,
	}
	if err := s.hub.Publish(workspaceID, event, nil); err != nil {
		s.logError(opSheetConfig, "broadcast_failed", err, zap.String("workspace_id", workspaceID))
	}
	return nil
}

func encodeRuleList(rules []json.RawMessage) string {
	if len(rules) == 0 {
		return ""
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return ""
	}
	return string(data)
}

// Snapshot assembles the full client state of a sheet: a dense value grid
// sized to the occupied extent (with a minimum canvas), sparse style,
// comment and hyperlink maps keyed "row,col", and every metadata facet.
func (s *Service) Snapshot(ctx context.Context, workspaceID, sheetID string) (*SheetSnapshot, error) {
	tx := s.db.WithContext(ctx)
	if _, err := s.getWorkspace(tx, workspaceID); err != nil {
		return nil, err
	}
	sheet, err := s.getSheet(tx, workspaceID, sheetID)
	if err != nil {
		return nil, err
	}

	var cells []Cell
	if err := tx.Where("sheet_id = ?", sheetID).Find(&cells).Error; err != nil {
		return nil, newServiceError(opSnapshot, "cell_query_failed", err)
	}
	var columnCount int64
	if err := tx.Model(&SheetColumn{}).Where("sheet_id = ?", sheetID).Count(&columnCount).Error; err != nil {
		return nil, newServiceError(opSnapshot, "column_count_failed", err)
	}

	merges := parseMerges(sheet.MergesJSON)

	numRows, numCols := minSnapshotRows, int(columnCount)
	for _, cell := range cells {
		if cell.RowIndex+1 > numRows {
			numRows = cell.RowIndex + 1
		}
		if cell.ColIndex+1 > numCols {
			numCols = cell.ColIndex + 1
		}
	}
	for _, m := range merges {
		if m.EndRow+1 > numRows {
			numRows = m.EndRow + 1
		}
		if m.EndCol+1 > numCols {
			numCols = m.EndCol + 1
		}
	}
	if numCols < minSnapshotCols {
		numCols = minSnapshotCols
	}

	grid := make([][]string, numRows)
	for i := range grid {
		grid[i] = make([]string, numCols)
	}
	styles := make(map[string]string)
	comments := make(map[string]string)
	hyperlinks := make(map[string]string)
	for _, cell := range cells {
		if cell.RowIndex >= numRows || cell.ColIndex >= numCols {
			continue
		}
		if cell.Value != nil {
			grid[cell.RowIndex][cell.ColIndex] = *cell.Value
		}
		key := fmt.Sprintf("%d,%d", cell.RowIndex, cell.ColIndex)
		if cell.Style != nil && *cell.Style != "" {
			styles[key] = *cell.Style
		}
		if cell.Comment != nil && *cell.Comment != "" {
			comments[key] = *cell.Comment
		}
		if cell.Hyperlink != nil && *cell.Hyperlink != "" {
			hyperlinks[key] = *cell.Hyperlink
		}
	}

	return &SheetSnapshot{
		Cells:              grid,
		NumRows:            numRows,
		NumCols:            numCols,
		Merges:             merges,
		RowHeights:         parseIndexFloatMap(sheet.RowHeightsJSON),
		ColWidths:          parseIndexIntMap(sheet.ColWidthsJSON),
		Freeze:             parseFreeze(sheet.FreezeJSON),
		RowOutline:         parseIndexIntMap(sheet.RowOutlineJSON),
		ColOutline:         parseIndexIntMap(sheet.ColOutlineJSON),
		HiddenRows:         parseIndexList(sheet.HiddenRowsJSON),
		HiddenCols:         parseIndexList(sheet.HiddenColsJSON),
		Styles:             styles,
		Comments:           comments,
		Hyperlinks:         hyperlinks,
		ConditionalFormats: parseRuleList(sheet.ConditionalFmtsJSON),
		Validations:        parseRuleList(sheet.ValidationsJSON),
		Protected:          sheet.Protected,
	}, nil
}
