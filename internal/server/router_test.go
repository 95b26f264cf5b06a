package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/auth"
	"github.com/minzkn/openspace/internal/docs"
	"github.com/minzkn/openspace/internal/grid"
	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

type testEnv struct {
	server *httptest.Server
	db     *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:openspace_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&users.User{},
		&grid.Workspace{}, &grid.Sheet{}, &grid.SheetColumn{}, &grid.Cell{}, &grid.ChangeLog{},
		&docs.Document{}, &docs.DocumentContent{}, &docs.DocumentChangeLog{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	broadcast := hub.New(nil)
	idProvider := grid.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	gridService, err := grid.NewService(grid.ServiceConfig{Database: db, Hub: broadcast, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct grid service: %v", err)
	}
	docsService, err := docs.NewService(docs.ServiceConfig{Database: db, Hub: broadcast, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct docs service: %v", err)
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "openspace-auth",
		Audience:      "openspace-api",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokens,
		UsersService: usersService,
		GridService:  gridService,
		DocsService:  docsService,
		Hub:          broadcast,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	env := &testEnv{server: server, db: db}
	env.seedUser(t, "root", "root-pass", users.RoleSuperAdmin)
	env.seedUser(t, "member", "member-pass", users.RoleUser)
	return env
}

func (e *testEnv) seedUser(t *testing.T, username, password string, role users.Role) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user := users.User{
		ID:           "user-" + username,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAtS:   1700000000,
		UpdatedAtS:   1700000000,
	}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

// request runs one JSON round trip and decodes the response body.
func (e *testEnv) request(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	status, body := e.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if status != http.StatusOK {
		t.Fatalf("login failed with status %d: %v", status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("login returned no token: %v", body)
	}
	return token
}

// createWorkspace makes a workspace and returns its id and seeded sheet id.
func (e *testEnv) createWorkspace(t *testing.T, token, name string) (string, string) {
	t.Helper()
	status, body := e.request(t, http.MethodPost, "/api/workspaces", token, map[string]string{"name": name})
	if status != http.StatusCreated {
		t.Fatalf("create workspace failed with status %d: %v", status, body)
	}
	workspaceID, _ := body["id"].(string)

	status, body = e.request(t, http.MethodGet, "/api/workspaces/"+workspaceID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("get workspace failed with status %d: %v", status, body)
	}
	sheets, _ := body["sheets"].([]any)
	if len(sheets) != 1 {
		t.Fatalf("expected one seeded sheet, got %v", body)
	}
	sheet, _ := sheets[0].(map[string]any)
	sheetID, _ := sheet["id"].(string)
	return workspaceID, sheetID
}

func TestLoginIssuesBearerToken(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "root", "password": "root-pass",
	})
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %v", status, body)
	}
	if body["token_type"] != "Bearer" {
		t.Fatalf("unexpected token type %v", body["token_type"])
	}
	user, _ := body["user"].(map[string]any)
	if user["username"] != "root" || user["role"] != "SUPER_ADMIN" {
		t.Fatalf("unexpected user payload %v", user)
	}

	status, _ = env.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "root", "password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", status)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.request(t, http.MethodGet, "/api/workspaces", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	status, _ = env.request(t, http.MethodGet, "/api/workspaces", "garbage", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}
}

func TestWorkspaceLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", "root-pass")
	member := env.login(t, "member", "member-pass")

	workspaceID, _ := env.createWorkspace(t, admin, "Planning")

	status, body := env.request(t, http.MethodGet, "/api/workspaces", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("list failed: %d %v", status, body)
	}
	workspaces, _ := body["workspaces"].([]any)
	if len(workspaces) != 1 {
		t.Fatalf("expected one workspace, got %v", body)
	}

	// Creation is admin-gated.
	status, _ = env.request(t, http.MethodPost, "/api/workspaces", member, map[string]string{"name": "Nope"})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for regular user, got %d", status)
	}

	status, _ = env.request(t, http.MethodGet, "/api/workspaces/missing", admin, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown workspace, got %d", status)
	}

	status, body = env.request(t, http.MethodPost, "/api/workspaces/"+workspaceID+"/close", admin, nil)
	if status != http.StatusOK || body["status"] != "CLOSED" {
		t.Fatalf("close failed: %d %v", status, body)
	}
	status, body = env.request(t, http.MethodPost, "/api/workspaces/"+workspaceID+"/reopen", admin, nil)
	if status != http.StatusOK || body["status"] != "OPEN" {
		t.Fatalf("reopen failed: %d %v", status, body)
	}
}

func TestApplyPatchesOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", "root-pass")
	member := env.login(t, "member", "member-pass")

	workspaceID, sheetID := env.createWorkspace(t, admin, "Grid")
	base := "/api/workspaces/" + workspaceID + "/sheets/" + sheetID

	status, body := env.request(t, http.MethodPost, base+"/cells", member, map[string]any{
		"patches": []map[string]any{
			{"row": 0, "col": 0, "value": "alpha"},
			{"row": 1, "col": 1, "value": "beta"},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("patch failed: %d %v", status, body)
	}
	if count, _ := body["applied_count"].(float64); count != 2 {
		t.Fatalf("expected 2 applied, got %v", body)
	}

	status, body = env.request(t, http.MethodGet, base+"/snapshot", member, nil)
	if status != http.StatusOK {
		t.Fatalf("snapshot failed: %d %v", status, body)
	}
	cells, _ := body["cells"].([]any)
	firstRow, _ := cells[0].([]any)
	if firstRow[0] != "alpha" {
		t.Fatalf("snapshot missing patched value: %v", firstRow)
	}

	// Empty patch list never reaches the engine.
	status, _ = env.request(t, http.MethodPost, base+"/cells", member, map[string]any{"patches": []any{}})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patches, got %d", status)
	}
}

func TestStructuralOpsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", "root-pass")

	workspaceID, sheetID := env.createWorkspace(t, admin, "Rows")
	base := "/api/workspaces/" + workspaceID + "/sheets/" + sheetID

	status, body := env.request(t, http.MethodPost, base+"/cells", admin, map[string]any{
		"patches": []map[string]any{{"row": 5, "col": 0, "value": "anchor"}},
	})
	if status != http.StatusOK {
		t.Fatalf("seed failed: %d %v", status, body)
	}

	status, body = env.request(t, http.MethodPost, base+"/rows/insert", admin, map[string]any{
		"index": 5, "count": 3, "direction": "above",
	})
	if status != http.StatusOK {
		t.Fatalf("insert failed: %d %v", status, body)
	}
	if inserted, _ := body["inserted"].(float64); inserted != 3 {
		t.Fatalf("expected 3 inserted, got %v", body)
	}

	status, body = env.request(t, http.MethodGet, base+"/snapshot", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("snapshot failed: %d %v", status, body)
	}
	cells, _ := body["cells"].([]any)
	row8, _ := cells[8].([]any)
	if row8[0] != "anchor" {
		t.Fatalf("expected anchor shifted to row 8, got %v", row8[0])
	}

	status, body = env.request(t, http.MethodPost, base+"/rows/delete", admin, map[string]any{
		"indices": []int{5, 6, 7},
	})
	if status != http.StatusOK {
		t.Fatalf("delete failed: %d %v", status, body)
	}
	if deleted, _ := body["deleted"].(float64); deleted != 3 {
		t.Fatalf("expected 3 deleted, got %v", body)
	}
}

func TestDocumentSaveConflictOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", "root-pass")

	status, body := env.request(t, http.MethodPost, "/api/documents", admin, map[string]string{
		"title": "Notes",
	})
	if status != http.StatusCreated {
		t.Fatalf("create document failed: %d %v", status, body)
	}
	documentID, _ := body["id"].(string)

	status, body = env.request(t, http.MethodPost, "/api/documents/"+documentID+"/save", admin, map[string]any{
		"base_version": 1, "content": "first draft",
	})
	if status != http.StatusOK {
		t.Fatalf("save failed: %d %v", status, body)
	}
	if version, _ := body["version"].(float64); version != 2 {
		t.Fatalf("expected version 2, got %v", body)
	}

	// A stale base returns the authoritative state so the client can rebase.
	status, body = env.request(t, http.MethodPost, "/api/documents/"+documentID+"/save", admin, map[string]any{
		"base_version": 1, "content": "lost edit",
	})
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %v", status, body)
	}
	if body["error"] != "version_conflict" {
		t.Fatalf("unexpected conflict payload %v", body)
	}
	if version, _ := body["server_version"].(float64); version != 2 {
		t.Fatalf("expected server_version 2, got %v", body)
	}
	if body["content"] != "first draft" {
		t.Fatalf("expected authoritative content, got %v", body["content"])
	}

	status, _ = env.request(t, http.MethodPost, "/api/documents/"+documentID+"/save", admin, map[string]any{
		"base_version": 0, "content": "bad base",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for base_version 0, got %d", status)
	}
}

func TestDocumentHistoryOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", "root-pass")

	status, body := env.request(t, http.MethodPost, "/api/documents", admin, map[string]string{"title": "Log"})
	if status != http.StatusCreated {
		t.Fatalf("create failed: %d %v", status, body)
	}
	documentID, _ := body["id"].(string)

	for i, content := range []string{"one", "two", "three"} {
		status, body = env.request(t, http.MethodPost, "/api/documents/"+documentID+"/save", admin, map[string]any{
			"base_version": i + 1, "content": content,
		})
		if status != http.StatusOK {
			t.Fatalf("save %d failed: %d %v", i, status, body)
		}
	}

	status, body = env.request(t, http.MethodGet, "/api/documents/"+documentID+"/history", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("history failed: %d %v", status, body)
	}
	history, _ := body["history"].([]any)
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %v", body)
	}
	newest, _ := history[0].(map[string]any)
	if version, _ := newest["version"].(float64); version != 4 {
		t.Fatalf("expected newest entry at version 4, got %v", newest)
	}
}
