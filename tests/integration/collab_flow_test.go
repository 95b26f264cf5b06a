package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/auth"
	"github.com/minzkn/openspace/internal/docs"
	"github.com/minzkn/openspace/internal/grid"
	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/server"
	"github.com/minzkn/openspace/internal/users"
)

const (
	integrationSigningSecret = "integration-secret"
	integrationAdminUser     = "root"
	integrationAdminPass     = "integration-pass"
	jsonContentType          = "application/json"
)

func TestCollaborationFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&users.User{},
		&grid.Workspace{}, &grid.Sheet{}, &grid.SheetColumn{}, &grid.Cell{}, &grid.ChangeLog{},
		&docs.Document{}, &docs.DocumentContent{}, &docs.DocumentChangeLog{},
	); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	broadcast := hub.New(zap.NewNop())
	idProvider := grid.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	gridService, err := grid.NewService(grid.ServiceConfig{
		Database:   db,
		Hub:        broadcast,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build grid service: %v", err)
	}
	docsService, err := docs.NewService(docs.ServiceConfig{
		Database:   db,
		Hub:        broadcast,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build docs service: %v", err)
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        "openspace-auth",
		Audience:      "openspace-api",
		TokenTTL:      time.Hour,
	})

	if err := usersService.EnsureBootstrapAdmin(context.Background(), integrationAdminUser, integrationAdminPass); err != nil {
		testContext.Fatalf("failed to bootstrap admin: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokens,
		UsersService: usersService,
		GridService:  gridService,
		DocsService:  docsService,
		Hub:          broadcast,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	accessToken := mustLogin(testContext, testServer.URL, integrationAdminUser, integrationAdminPass)

	// Workspace lifecycle: create, then discover the seeded sheet.
	status, created := doJSON(testContext, testServer.URL+"/api/workspaces", http.MethodPost, accessToken,
		map[string]string{"name": "Quarterly Plan"})
	if status != http.StatusCreated {
		testContext.Fatalf("unexpected create status: %d %v", status, created)
	}
	workspaceID := created["id"].(string)

	status, loaded := doJSON(testContext, testServer.URL+"/api/workspaces/"+workspaceID, http.MethodGet, accessToken, nil)
	if status != http.StatusOK {
		testContext.Fatalf("unexpected get status: %d", status)
	}
	sheets := loaded["sheets"].([]any)
	if len(sheets) != 1 {
		testContext.Fatalf("expected one seeded sheet, got %d", len(sheets))
	}
	sheetID := sheets[0].(map[string]any)["id"].(string)
	sheetBase := testServer.URL + "/api/workspaces/" + workspaceID + "/sheets/" + sheetID

	// Patch a few cells, one of them carrying an unsafe hyperlink.
	status, patched := doJSON(testContext, sheetBase+"/cells", http.MethodPost, accessToken, map[string]any{
		"patches": []map[string]any{
			{"row": 0, "col": 0, "value": "3"},
			{"row": 1, "col": 0, "value": "1"},
			{"row": 2, "col": 0, "value": "2"},
			{"row": 0, "col": 1, "value": "link", "hyperlink": "javascript:alert(1)"},
		},
	})
	if status != http.StatusOK {
		testContext.Fatalf("unexpected patch status: %d %v", status, patched)
	}
	if count := patched["applied_count"].(float64); count != 4 {
		testContext.Fatalf("expected 4 applied patches, got %v", count)
	}

	// Sort on the first column and verify whole rows moved.
	status, _ = doJSON(testContext, sheetBase+"/sort", http.MethodPost, accessToken, map[string]any{
		"column": 0, "ascending": true,
	})
	if status != http.StatusOK {
		testContext.Fatalf("unexpected sort status: %d", status)
	}

	// Structural shift: inserting three rows above row 1 pushes the data down.
	status, inserted := doJSON(testContext, sheetBase+"/rows/insert", http.MethodPost, accessToken, map[string]any{
		"index": 1, "count": 3, "direction": "above",
	})
	if status != http.StatusOK {
		testContext.Fatalf("unexpected insert status: %d %v", status, inserted)
	}

	status, snapshot := doJSON(testContext, sheetBase+"/snapshot", http.MethodGet, accessToken, nil)
	if status != http.StatusOK {
		testContext.Fatalf("unexpected snapshot status: %d", status)
	}
	cells := snapshot["cells"].([]any)
	firstCol := func(row int) string {
		value, _ := cells[row].([]any)[0].(string)
		return value
	}
	if firstCol(0) != "1" || firstCol(4) != "2" || firstCol(5) != "3" {
		testContext.Fatalf("expected sorted then shifted column, got [%s %s %s]", firstCol(0), firstCol(4), firstCol(5))
	}
	hyperlinks := snapshot["hyperlinks"].(map[string]any)
	for coordinate, link := range hyperlinks {
		testContext.Fatalf("unsafe hyperlink survived at %s: %v", coordinate, link)
	}

	// Change log records the cell history.
	status, changes := doJSON(testContext, testServer.URL+"/api/workspaces/"+workspaceID+"/changes", http.MethodGet, accessToken, nil)
	if status != http.StatusOK {
		testContext.Fatalf("unexpected changes status: %d", status)
	}
	if entries := changes["changes"].([]any); len(entries) == 0 {
		testContext.Fatalf("expected change log entries")
	}

	// Document versioning: create, save, then collide on a stale base.
	status, document := doJSON(testContext, testServer.URL+"/api/documents", http.MethodPost, accessToken,
		map[string]string{"title": "Release Notes", "language": "markdown"})
	if status != http.StatusCreated {
		testContext.Fatalf("unexpected document create status: %d %v", status, document)
	}
	documentID := document["id"].(string)

	status, saved := doJSON(testContext, testServer.URL+"/api/documents/"+documentID+"/save", http.MethodPost, accessToken,
		map[string]any{"base_version": 1, "content": "# v1"})
	if status != http.StatusOK {
		testContext.Fatalf("unexpected save status: %d %v", status, saved)
	}
	if version := saved["version"].(float64); version != 2 {
		testContext.Fatalf("expected version 2 after save, got %v", version)
	}

	status, conflict := doJSON(testContext, testServer.URL+"/api/documents/"+documentID+"/save", http.MethodPost, accessToken,
		map[string]any{"base_version": 1, "content": "# stale"})
	if status != http.StatusConflict {
		testContext.Fatalf("expected conflict status, got %d %v", status, conflict)
	}
	if conflict["server_version"].(float64) != 2 || conflict["content"] != "# v1" {
		testContext.Fatalf("conflict payload missing authoritative state: %v", conflict)
	}
}

func mustLogin(testContext *testing.T, baseURL, username, password string) string {
	testContext.Helper()
	status, body := doJSON(testContext, baseURL+"/api/auth/login", http.MethodPost, "",
		map[string]string{"username": username, "password": password})
	if status != http.StatusOK {
		testContext.Fatalf("login failed: %d %v", status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		testContext.Fatalf("missing access token in %v", body)
	}
	return token
}

func doJSON(testContext *testing.T, url, method, token string, payload any) (int, map[string]any) {
	testContext.Helper()
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			testContext.Fatalf("failed to encode payload: %v", err)
		}
		body = encoded
	}
	request, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	decoded := map[string]any{}
	_ = json.NewDecoder(response.Body).Decode(&decoded)
	return response.StatusCode, decoded
}
