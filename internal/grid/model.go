package grid

import "github.com/google/uuid"

// Workspace status values. The two-state machine gates non-privileged writes.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Hard grid bounds and per-call clamps. These are wire-contract values
// shared with every client.
const (
	MaxRows           = 10000
	MaxCols           = 16384
	MaxRowInsertCount = 100
	MaxColInsertCount = 50
	MaxSheets         = 64
)

// stagingOffset is the disjoint key space used by the two-phase index
// remap. Cells staged there can never collide with live coordinates, so
// the unique (sheet, row, col) index holds through every intermediate
// state of an insert, delete, or sort.
const stagingOffset = 100000

// Workspace is one live grid document and the broadcast room of its sheets.
type Workspace struct {
	ID         string  `gorm:"column:id;primaryKey;size:190;not null"`
	Name       string  `gorm:"column:name;size:190;not null"`
	Status     string  `gorm:"column:status;size:16;not null;default:OPEN"`
	CreatedBy  string  `gorm:"column:created_by;size:190;not null"`
	ClosedBy   *string `gorm:"column:closed_by;size:190"`
	ClosedAtS  *int64  `gorm:"column:closed_at_s"`
	CreatedAtS int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtS int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Workspace) TableName() string {
	return "workspaces"
}

// Sheet holds per-sheet layout metadata. The JSON text columns are
// best-effort facets: a malformed value degrades to the empty default
// instead of failing the request.
type Sheet struct {
	ID                  string `gorm:"column:id;primaryKey;size:190;not null"`
	WorkspaceID         string `gorm:"column:workspace_id;size:190;not null;uniqueIndex:idx_sheets_ws_index,priority:1"`
	SheetIndex          int    `gorm:"column:sheet_index;not null;uniqueIndex:idx_sheets_ws_index,priority:2"`
	SheetName           string `gorm:"column:sheet_name;size:190;not null"`
	MergesJSON          string `gorm:"column:merges;type:text"`
	RowHeightsJSON      string `gorm:"column:row_heights;type:text"`
	ColWidthsJSON       string `gorm:"column:col_widths;type:text"`
	FreezeJSON          string `gorm:"column:freeze_panes;type:text"`
	RowOutlineJSON      string `gorm:"column:row_outline;type:text"`
	ColOutlineJSON      string `gorm:"column:col_outline;type:text"`
	HiddenRowsJSON      string `gorm:"column:hidden_rows;type:text"`
	HiddenColsJSON      string `gorm:"column:hidden_cols;type:text"`
	ConditionalFmtsJSON string `gorm:"column:conditional_formats;type:text"`
	ValidationsJSON     string `gorm:"column:validations;type:text"`
	Protected           bool   `gorm:"column:protected;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Sheet) TableName() string {
	return "workspace_sheets"
}

// SheetColumn is the layout-derived column policy: header, type, width and
// the readonly flag consulted by the patch engine.
type SheetColumn struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null"`
	SheetID     string `gorm:"column:sheet_id;size:190;not null;uniqueIndex:idx_columns_sheet_index,priority:1"`
	ColIndex    int    `gorm:"column:col_index;not null;uniqueIndex:idx_columns_sheet_index,priority:2"`
	Header      string `gorm:"column:col_header;size:190;not null"`
	ColType     string `gorm:"column:col_type;size:32;not null;default:text"`
	OptionsJSON string `gorm:"column:col_options;type:text"`
	IsReadOnly  bool   `gorm:"column:is_readonly;not null;default:false"`
	Width       int    `gorm:"column:width;not null;default:120"`
}

// TableName provides the explicit table binding for GORM.
func (SheetColumn) TableName() string {
	return "sheet_columns"
}

// Cell is one grid coordinate. The unique index on (sheet, row, col) is
// enforced eagerly by the store and is the invariant the structural
// engine's two-phase remap protects.
type Cell struct {
	ID         string  `gorm:"column:id;primaryKey;size:190;not null"`
	SheetID    string  `gorm:"column:sheet_id;size:190;not null;uniqueIndex:idx_cells_coord,priority:1;index:idx_cells_sheet"`
	RowIndex   int     `gorm:"column:row_index;not null;uniqueIndex:idx_cells_coord,priority:2"`
	ColIndex   int     `gorm:"column:col_index;not null;uniqueIndex:idx_cells_coord,priority:3"`
	Value      *string `gorm:"column:value;type:text"`
	Style      *string `gorm:"column:style;type:text"`
	Comment    *string `gorm:"column:comment;type:text"`
	Hyperlink  *string `gorm:"column:hyperlink;type:text"`
	UpdatedBy  string  `gorm:"column:updated_by;size:190"`
	UpdatedAtS int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Cell) TableName() string {
	return "workspace_cells"
}

// ChangeLog captures an append-only audit trail of value-changing patches.
type ChangeLog struct {
	ID          string  `gorm:"column:id;primaryKey;size:190;not null"`
	WorkspaceID string  `gorm:"column:workspace_id;size:190;not null;index:idx_changes_workspace"`
	SheetID     string  `gorm:"column:sheet_id;size:190;not null"`
	UserID      string  `gorm:"column:user_id;size:190;not null"`
	RowIndex    int     `gorm:"column:row_index;not null"`
	ColIndex    int     `gorm:"column:col_index;not null"`
	OldValue    *string `gorm:"column:old_value;type:text"`
	NewValue    *string `gorm:"column:new_value;type:text"`
	ChangedAtS  int64   `gorm:"column:changed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChangeLog) TableName() string {
	return "change_logs"
}

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
