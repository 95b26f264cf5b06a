package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/minzkn/openspace/internal/docs"
	"github.com/minzkn/openspace/internal/grid"
	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

const actorContextKey = "openspace_actor"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingGridService  = errors.New("grid service dependency required")
	errMissingDocsService  = errors.New("docs service dependency required")
	errMissingHub          = errors.New("hub dependency required")
)

// SessionTokenManager issues and validates bearer tokens for local accounts.
type SessionTokenManager interface {
	IssueSessionToken(userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the engines behind it.
type Dependencies struct {
	TokenManager   SessionTokenManager
	UsersService   *users.Service
	GridService    *grid.Service
	DocsService    *docs.Service
	Hub            *hub.Hub
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHTTPHandler builds the full REST and WebSocket router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.GridService == nil {
		return nil, errMissingGridService
	}
	if deps.DocsService == nil {
		return nil, errMissingDocsService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		usersService: deps.UsersService,
		gridService:  deps.GridService,
		docsService:  deps.DocsService,
		hub:          deps.Hub,
		logger:       logger,
	}

	router.POST("/api/auth/login", handler.handleLogin)

	router.GET("/ws/workspaces/:workspaceID", handler.handleWorkspaceSocket)
	router.GET("/ws/documents/:documentID", handler.handleDocumentSocket)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)

	protected.GET("/workspaces", handler.handleListWorkspaces)
	protected.POST("/workspaces", handler.handleCreateWorkspace)
	protected.POST("/workspaces/batch-delete", handler.handleBatchDeleteWorkspaces)
	protected.GET("/workspaces/:workspaceID", handler.handleGetWorkspace)
	protected.PUT("/workspaces/:workspaceID", handler.handleRenameWorkspace)
	protected.DELETE("/workspaces/:workspaceID", handler.handleDeleteWorkspace)
	protected.POST("/workspaces/:workspaceID/close", handler.handleCloseWorkspace)
	protected.POST("/workspaces/:workspaceID/reopen", handler.handleReopenWorkspace)
	protected.GET("/workspaces/:workspaceID/changes", handler.handleListChanges)

	protected.POST("/workspaces/:workspaceID/sheets", handler.handleAddSheet)
	protected.PUT("/workspaces/:workspaceID/sheets/:sheetID", handler.handleRenameSheet)
	protected.DELETE("/workspaces/:workspaceID/sheets/:sheetID", handler.handleDeleteSheet)
	protected.GET("/workspaces/:workspaceID/sheets/:sheetID/snapshot", handler.handleSheetSnapshot)
	protected.PUT("/workspaces/:workspaceID/sheets/:sheetID/config", handler.handleUpdateSheetConfig)

	protected.POST("/workspaces/:workspaceID/sheets/:sheetID/cells", handler.handleApplyPatches)
	protected.POST("/workspaces/:workspaceID/sheets/:sheetID/rows/insert", handler.handleInsertRows)
	protected.POST("/workspaces/:workspaceID/sheets/:sheetID/rows/delete", handler.handleDeleteRows)
	protected.POST("/workspaces/:workspaceID/sheets/:sheetID/cols/insert", handler.handleInsertCols)
	protected.POST("/workspaces/:workspaceID/sheets/:sheetID/cols/delete", handler.handleDeleteCols)
	protected.POST("/workspaces/:workspaceID/sheets/:sheetID/sort", handler.handleSortRows)

	protected.GET("/documents", handler.handleListDocuments)
	protected.POST("/documents", handler.handleCreateDocument)
	protected.POST("/documents/batch-delete", handler.handleBatchDeleteDocuments)
	protected.GET("/documents/:documentID", handler.handleGetDocument)
	protected.PUT("/documents/:documentID", handler.handleUpdateDocument)
	protected.DELETE("/documents/:documentID", handler.handleDeleteDocument)
	protected.POST("/documents/:documentID/save", handler.handleSaveDocument)
	protected.POST("/documents/:documentID/close", handler.handleCloseDocument)
	protected.POST("/documents/:documentID/reopen", handler.handleReopenDocument)
	protected.GET("/documents/:documentID/history", handler.handleDocumentHistory)

	return router, nil
}

type httpHandler struct {
	tokens       SessionTokenManager
	usersService *users.Service
	gridService  *grid.Service
	docsService  *docs.Service
	hub          *hub.Hub
	logger       *zap.Logger
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginUserPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type loginResponsePayload struct {
	AccessToken string           `json:"access_token"`
	ExpiresIn   int64            `json:"expires_in"`
	TokenType   string           `json:"token_type"`
	User        loginUserPayload `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.usersService.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrUnknownUser) || errors.Is(err, users.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(user.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        loginUserPayload{ID: user.ID, Username: user.Username, Role: string(user.Role)},
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing or invalid"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing or invalid"})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user, err := h.usersService.GetByID(c.Request.Context(), subject)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(actorContextKey, user)
	c.Next()
}

func (h *httpHandler) actor(c *gin.Context) *users.User {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return nil
	}
	user, ok := value.(*users.User)
	if !ok {
		return nil
	}
	return user
}

// respondServiceError maps engine failures onto the HTTP status contract.
// Conflicts carry the authoritative document state so clients can rebase.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var notFound *grid.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}
	var permission *grid.PermissionError
	if errors.As(err, &permission) {
		c.JSON(http.StatusForbidden, gin.H{"error": permission.Error()})
		return
	}
	var validation *grid.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
		return
	}
	var conflict *docs.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{
			"error":          "version_conflict",
			"server_version": conflict.Version,
			"content":        conflict.Content,
		})
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

type workspacePayload struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	CreatedBy  string  `json:"created_by"`
	ClosedBy   *string `json:"closed_by"`
	ClosedAtS  *int64  `json:"closed_at_s"`
	CreatedAtS int64   `json:"created_at_s"`
	UpdatedAtS int64   `json:"updated_at_s"`
}

func toWorkspacePayload(workspace *grid.Workspace) workspacePayload {
	return workspacePayload{
		ID:         workspace.ID,
		Name:       workspace.Name,
		Status:     workspace.Status,
		CreatedBy:  workspace.CreatedBy,
		ClosedBy:   workspace.ClosedBy,
		ClosedAtS:  workspace.ClosedAtS,
		CreatedAtS: workspace.CreatedAtS,
		UpdatedAtS: workspace.UpdatedAtS,
	}
}

type columnPayload struct {
	ID         string `json:"id"`
	ColIndex   int    `json:"col_index"`
	Header     string `json:"header"`
	ColType    string `json:"col_type"`
	IsReadOnly bool   `json:"is_readonly"`
	Width      int    `json:"width"`
}

type sheetPayload struct {
	ID         string          `json:"id"`
	SheetIndex int             `json:"sheet_index"`
	SheetName  string          `json:"sheet_name"`
	Protected  bool            `json:"protected"`
	Columns    []columnPayload `json:"columns"`
}

func toColumnPayloads(columns []grid.SheetColumn) []columnPayload {
	payloads := make([]columnPayload, 0, len(columns))
	for _, column := range columns {
		payloads = append(payloads, columnPayload{
			ID:         column.ID,
			ColIndex:   column.ColIndex,
			Header:     column.Header,
			ColType:    column.ColType,
			IsReadOnly: column.IsReadOnly,
			Width:      column.Width,
		})
	}
	return payloads
}

type nameRequestPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleListWorkspaces(c *gin.Context) {
	workspaces, err := h.gridService.ListWorkspaces(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payloads := make([]workspacePayload, 0, len(workspaces))
	for i := range workspaces {
		payloads = append(payloads, toWorkspacePayload(&workspaces[i]))
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": payloads})
}

func (h *httpHandler) handleCreateWorkspace(c *gin.Context) {
	var request nameRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	workspace, err := h.gridService.CreateWorkspace(c.Request.Context(), strings.TrimSpace(request.Name), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toWorkspacePayload(workspace))
}

func (h *httpHandler) handleGetWorkspace(c *gin.Context) {
	workspace, sheets, columns, err := h.gridService.GetWorkspace(c.Request.Context(), c.Param("workspaceID"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	sheetPayloads := make([]sheetPayload, 0, len(sheets))
	for _, sheet := range sheets {
		sheetPayloads = append(sheetPayloads, sheetPayload{
			ID:         sheet.ID,
			SheetIndex: sheet.SheetIndex,
			SheetName:  sheet.SheetName,
			Protected:  sheet.Protected,
			Columns:    toColumnPayloads(columns[sheet.ID]),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace": toWorkspacePayload(workspace),
		"sheets":    sheetPayloads,
	})
}

func (h *httpHandler) handleRenameWorkspace(c *gin.Context) {
	var request nameRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	workspace, err := h.gridService.RenameWorkspace(c.Request.Context(), c.Param("workspaceID"), strings.TrimSpace(request.Name), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWorkspacePayload(workspace))
}

func (h *httpHandler) handleDeleteWorkspace(c *gin.Context) {
	if err := h.gridService.DeleteWorkspace(c.Request.Context(), c.Param("workspaceID"), h.actor(c)); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type batchDeleteRequestPayload struct {
	IDs []string `json:"ids"`
}

func (h *httpHandler) handleBatchDeleteWorkspaces(c *gin.Context) {
	var request batchDeleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	deleted, err := h.gridService.BatchDeleteWorkspaces(c.Request.Context(), request.IDs, h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *httpHandler) handleCloseWorkspace(c *gin.Context) {
	workspace, err := h.gridService.CloseWorkspace(c.Request.Context(), c.Param("workspaceID"), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWorkspacePayload(workspace))
}

func (h *httpHandler) handleReopenWorkspace(c *gin.Context) {
	workspace, err := h.gridService.ReopenWorkspace(c.Request.Context(), c.Param("workspaceID"), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWorkspacePayload(workspace))
}

type changePayload struct {
	UserID     string  `json:"user_id"`
	SheetID    string  `json:"sheet_id"`
	Row        int     `json:"row"`
	Col        int     `json:"col"`
	OldValue   *string `json:"old_value"`
	NewValue   *string `json:"new_value"`
	ChangedAtS int64   `json:"changed_at_s"`
}

func (h *httpHandler) handleListChanges(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.gridService.ListChanges(c.Request.Context(), c.Param("workspaceID"), limit)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payloads := make([]changePayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, changePayload{
			UserID:     entry.UserID,
			SheetID:    entry.SheetID,
			Row:        entry.RowIndex,
			Col:        entry.ColIndex,
			OldValue:   entry.OldValue,
			NewValue:   entry.NewValue,
			ChangedAtS: entry.ChangedAtS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"changes": payloads})
}

type addSheetRequestPayload struct {
	SheetName string `json:"sheet_name"`
}

func (h *httpHandler) handleAddSheet(c *gin.Context) {
	var request addSheetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	info, err := h.gridService.AddSheet(c.Request.Context(), c.Param("workspaceID"), strings.TrimSpace(request.SheetName), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *httpHandler) handleRenameSheet(c *gin.Context) {
	var request addSheetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.gridService.RenameSheet(c.Request.Context(), c.Param("workspaceID"), c.Param("sheetID"), strings.TrimSpace(request.SheetName), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"renamed": true})
}

func (h *httpHandler) handleDeleteSheet(c *gin.Context) {
	err := h.gridService.DeleteSheet(c.Request.Context(), c.Param("workspaceID"), c.Param("sheetID"), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleSheetSnapshot(c *gin.Context) {
	snapshot, err := h.gridService.Snapshot(c.Request.Context(), c.Param("workspaceID"), c.Param("sheetID"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type sheetConfigRequestPayload struct {
	Facet string `json:"facet"`
	Value string `json:"value"`
	TabID string `json:"tab_id"`
}

func (h *httpHandler) handleUpdateSheetConfig(c *gin.Context) {
	var request sheetConfigRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Facet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.gridService.UpdateSheetConfig(
		c.Request.Context(),
		c.Param("workspaceID"),
		c.Param("sheetID"),
		grid.ConfigFacet(request.Facet),
		request.Value,
		request.TabID,
		h.actor(c),
	)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

type patchRequestPayload struct {
	Patches []grid.Patch `json:"patches"`
}

func (h *httpHandler) handleApplyPatches(c *gin.Context) {
	var request patchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Patches) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	applied, err := h.gridService.ApplyPatches(
		c.Request.Context(),
		c.Param("workspaceID"),
		c.Param("sheetID"),
		request.Patches,
		h.actor(c),
		nil,
	)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if applied == nil {
		applied = []grid.AppliedPatch{}
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied, "applied_count": len(applied)})
}

type insertRequestPayload struct {
	Index     int    `json:"index"`
	Count     int    `json:"count"`
	Direction string `json:"direction"`
}

func (h *httpHandler) handleInsertRows(c *gin.Context) {
	var request insertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	count, err := h.gridService.InsertRows(
		c.Request.Context(),
		c.Param("workspaceID"),
		c.Param("sheetID"),
		request.Index,
		request.Count,
		request.Direction,
		h.actor(c),
	)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": count})
}

type deleteIndicesRequestPayload struct {
	Indices []int `json:"indices"`
}

func (h *httpHandler) handleDeleteRows(c *gin.Context) {
	var request deleteIndicesRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Indices) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	count, err := h.gridService.DeleteRows(
		c.Request.Context(),
		c.Param("workspaceID"),
		c.Param("sheetID"),
		request.Indices,
		h.actor(c),
	)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

func (h *httpHandler) handleInsertCols(c *gin.Context) {
	var request insertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	count, err := h.gridService.InsertCols(
		c.Request.Context(),
		c.Param("workspaceID"),
		c.Param("sheetID"),
		request.Index,
		request.Count,
		request.Direction,
		h.actor(c),
	)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": count})
}

func (h *httpHandler) handleDeleteCols(c *gin.Context) {
	var request deleteIndicesRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Indices) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	count, err := h.gridService.DeleteCols(
		c.Request.Context(),
		c.Param("workspaceID"),
		c.Param("sheetID"),
		request.Indices,
		h.actor(c),
	)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

type sortRequestPayload struct {
	Column    int  `json:"column"`
	Ascending bool `json:"ascending"`
}

func (h *httpHandler) handleSortRows(c *gin.Context) {
	var request sortRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.gridService.SortRows(
		c.Request.Context(),
		c.Param("workspaceID"),
		c.Param("sheetID"),
		request.Column,
		request.Ascending,
		h.actor(c),
	)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sorted": true})
}

type documentPayload struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Language   string  `json:"language"`
	Status     string  `json:"status"`
	Version    int64   `json:"version"`
	CreatedBy  string  `json:"created_by"`
	ClosedBy   *string `json:"closed_by"`
	ClosedAtS  *int64  `json:"closed_at_s"`
	CreatedAtS int64   `json:"created_at_s"`
	UpdatedAtS int64   `json:"updated_at_s"`
}

func toDocumentPayload(document *docs.Document) documentPayload {
	return documentPayload{
		ID:         document.ID,
		Title:      document.Title,
		Language:   document.Language,
		Status:     document.Status,
		Version:    document.Version,
		CreatedBy:  document.CreatedBy,
		ClosedBy:   document.ClosedBy,
		ClosedAtS:  document.ClosedAtS,
		CreatedAtS: document.CreatedAtS,
		UpdatedAtS: document.UpdatedAtS,
	}
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	documents, err := h.docsService.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payloads := make([]documentPayload, 0, len(documents))
	for i := range documents {
		payloads = append(payloads, toDocumentPayload(&documents[i]))
	}
	c.JSON(http.StatusOK, gin.H{"documents": payloads})
}

type createDocumentRequestPayload struct {
	Title    string `json:"title"`
	Language string `json:"language"`
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	var request createDocumentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	document, err := h.docsService.Create(c.Request.Context(), strings.TrimSpace(request.Title), request.Language, h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toDocumentPayload(document))
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	document, content, err := h.docsService.Get(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document": toDocumentPayload(document),
		"content":  content,
	})
}

type updateDocumentRequestPayload struct {
	Title    *string `json:"title"`
	Language *string `json:"language"`
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	var request updateDocumentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	document, err := h.docsService.Update(c.Request.Context(), c.Param("documentID"), request.Title, request.Language, h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(document))
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	if err := h.docsService.Delete(c.Request.Context(), c.Param("documentID"), h.actor(c)); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleBatchDeleteDocuments(c *gin.Context) {
	var request batchDeleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	deleted, err := h.docsService.BatchDelete(c.Request.Context(), request.IDs, h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type saveDocumentRequestPayload struct {
	BaseVersion int64  `json:"base_version"`
	Content     string `json:"content"`
}

func (h *httpHandler) handleSaveDocument(c *gin.Context) {
	var request saveDocumentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.BaseVersion < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	document, err := h.docsService.Save(c.Request.Context(), c.Param("documentID"), request.BaseVersion, request.Content, h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": document.Version})
}

func (h *httpHandler) handleCloseDocument(c *gin.Context) {
	document, err := h.docsService.Close(c.Request.Context(), c.Param("documentID"), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(document))
}

func (h *httpHandler) handleReopenDocument(c *gin.Context) {
	document, err := h.docsService.Reopen(c.Request.Context(), c.Param("documentID"), h.actor(c))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentPayload(document))
}

type documentHistoryPayload struct {
	UserID      string `json:"user_id"`
	Version     int64  `json:"version"`
	ContentSize int    `json:"content_size"`
	ChangedAtS  int64  `json:"changed_at_s"`
}

func (h *httpHandler) handleDocumentHistory(c *gin.Context) {
	entries, err := h.docsService.History(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	payloads := make([]documentHistoryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, documentHistoryPayload{
			UserID:      entry.UserID,
			Version:     entry.Version,
			ContentSize: entry.ContentSize,
			ChangedAtS:  entry.ChangedAtS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": payloads})
}
