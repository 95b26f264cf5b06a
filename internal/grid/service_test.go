package grid

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

type seqIDGenerator struct {
	next int
}

func (g *seqIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%06d", g.next), nil
}

type recordedEvent struct {
	Room    string
	Message any
	Exclude hub.Conn
}

type recordingPublisher struct {
	events []recordedEvent
}

func (p *recordingPublisher) Publish(room string, message any, exclude hub.Conn) error {
	p.events = append(p.events, recordedEvent{Room: room, Message: message, Exclude: exclude})
	return nil
}

func (p *recordingPublisher) lastEvent(t *testing.T) recordedEvent {
	t.Helper()
	if len(p.events) == 0 {
		t.Fatalf("expected at least one broadcast")
	}
	return p.events[len(p.events)-1]
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingPublisher) {
	t.Helper()

	dsn := fmt.Sprintf("file:openspace_grid_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Workspace{}, &Sheet{}, &SheetColumn{}, &Cell{}, &ChangeLog{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	publisher := &recordingPublisher{}
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Hub:        publisher,
		Clock:      clock,
		IDProvider: &seqIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct grid service: %v", err)
	}
	return service, db, publisher
}

func adminActor() *users.User {
	return &users.User{ID: "admin-1", Username: "admin", Role: users.RoleAdmin, IsActive: true}
}

func regularActor() *users.User {
	return &users.User{ID: "user-1", Username: "alice", Role: users.RoleUser, IsActive: true}
}

// mustWorkspace creates a workspace and returns it with its seeded sheet.
func mustWorkspace(t *testing.T, service *Service) (*Workspace, *Sheet) {
	t.Helper()
	workspace, err := service.CreateWorkspace(context.Background(), "Planning", adminActor())
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	var sheet Sheet
	if err := service.db.Where("workspace_id = ?", workspace.ID).Take(&sheet).Error; err != nil {
		t.Fatalf("failed to load seeded sheet: %v", err)
	}
	return workspace, &sheet
}

func str(value string) *string {
	return &value
}

// mustSetCell writes a cell directly, bypassing the patch engine, for
// fixtures.
func mustSetCell(t *testing.T, db *gorm.DB, ids *int, sheetID string, row, col int, value string) {
	t.Helper()
	*ids++
	cell := Cell{
		ID:         fmt.Sprintf("cell-%d", *ids),
		SheetID:    sheetID,
		RowIndex:   row,
		ColIndex:   col,
		Value:      str(value),
		UpdatedBy:  "fixture",
		UpdatedAtS: 1700000000,
	}
	if err := db.Create(&cell).Error; err != nil {
		t.Fatalf("failed to insert fixture cell (%d,%d): %v", row, col, err)
	}
}

// cellAt loads one cell or returns nil when the coordinate is vacant.
func cellAt(t *testing.T, db *gorm.DB, sheetID string, row, col int) *Cell {
	t.Helper()
	var cell Cell
	err := db.Where("sheet_id = ? AND row_index = ? AND col_index = ?", sheetID, row, col).Take(&cell).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to load cell (%d,%d): %v", row, col, err)
	}
	return &cell
}

func valueAt(t *testing.T, db *gorm.DB, sheetID string, row, col int) string {
	t.Helper()
	cell := cellAt(t, db, sheetID, row, col)
	if cell == nil || cell.Value == nil {
		return ""
	}
	return *cell.Value
}

func reloadSheet(t *testing.T, db *gorm.DB, sheetID string) *Sheet {
	t.Helper()
	var sheet Sheet
	if err := db.Where("id = ?", sheetID).Take(&sheet).Error; err != nil {
		t.Fatalf("failed to reload sheet: %v", err)
	}
	return &sheet
}
