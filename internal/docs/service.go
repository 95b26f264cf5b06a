package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/minzkn/openspace/internal/grid"
	"github.com/minzkn/openspace/internal/hub"
	"github.com/minzkn/openspace/internal/users"
)

const (
	opCreateDocument = "docs.create_document"
	opSaveDocument   = "docs.save_document"
	opSetStatus      = "docs.set_document_status"
	opDeleteDocument = "docs.delete_document"

	historyLimit = 100
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingHub        = errors.New("broadcast hub is required")
	noOpLogger           = zap.NewNop()
)

// ConflictError rejects a save whose base version is stale. It carries the
// authoritative server state so the client can rebase without a second
// round trip. The document is left untouched.
type ConflictError struct {
	Version int64
	Content string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document version conflict: server at version %d", e.Version)
}

func newServiceError(operation, reason string, cause error) error {
	return grid.NewServiceError(operation, reason, cause)
}

type docUpdatedEvent struct {
	Type      string `json:"type"`
	Version   int64  `json:"version"`
	Content   string `json:"content"`
	UpdatedBy string `json:"updated_by"`
}

// ServiceConfig wires the document engine dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Hub        grid.Publisher
	Clock      func() time.Time
	IDProvider grid.IDProvider
	Logger     *zap.Logger
}

// Service is the document versioning engine. Every save is a full-content
// snapshot committed under optimistic concurrency control; there is no
// merging of concurrent edits.
type Service struct {
	db         *gorm.DB
	hub        grid.Publisher
	clock      func() time.Time
	idProvider grid.IDProvider
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("docs.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.Hub == nil {
		return nil, newServiceError("docs.service.new", "missing_hub", errMissingHub)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError("docs.service.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		hub:        cfg.Hub,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Room names the hub room carrying a document's update events.
func Room(documentID string) string {
	return RoomPrefix + documentID
}

// Create makes a new document at version 1 with empty content. Privileged
// actors only.
func (s *Service) Create(ctx context.Context, title, language string, actor *users.User) (*Document, error) {
	if !actor.IsPrivileged() {
		return nil, &grid.PermissionError{Reason: "requires admin role"}
	}
	if title == "" {
		return nil, &grid.ValidationError{Reason: "document title is required"}
	}
	if language == "" {
		language = "plaintext"
	}
	if _, ok := ValidLanguages[language]; !ok {
		return nil, &grid.ValidationError{Reason: "unsupported language: " + language}
	}

	documentID, err := s.idProvider.NewID()
	if err != nil {
		return nil, newServiceError(opCreateDocument, "id_generation_failed", err)
	}
	snapshotID, err := s.idProvider.NewID()
	if err != nil {
		return nil, newServiceError(opCreateDocument, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	document := Document{
		ID:         documentID,
		Title:      title,
		Language:   language,
		Status:     StatusOpen,
		Version:    1,
		CreatedBy:  actor.ID,
		CreatedAtS: now,
		UpdatedAtS: now,
	}
	snapshot := DocumentContent{
		ID:         snapshotID,
		DocumentID: documentID,
		Version:    1,
		Content:    "",
		UpdatedBy:  actor.ID,
		UpdatedAtS: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&document).Error; err != nil {
			return newServiceError(opCreateDocument, "insert_failed", err)
		}
		if err := tx.Create(&snapshot).Error; err != nil {
			return newServiceError(opCreateDocument, "snapshot_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	s.logger.Info("document created",
		zap.String("document_id", documentID), zap.String("title", title))
	return &document, nil
}

// List returns every document, newest first.
func (s *Service) List(ctx context.Context) ([]Document, error) {
	var documents []Document
	err := s.db.WithContext(ctx).Order("created_at_s DESC").Find(&documents).Error
	if err != nil {
		return nil, newServiceError("docs.list_documents", "query_failed", err)
	}
	return documents, nil
}

// Get loads one document with the content at its current version.
func (s *Service) Get(ctx context.Context, documentID string) (*Document, string, error) {
	tx := s.db.WithContext(ctx)
	document, err := s.getDocument(tx, documentID)
	if err != nil {
		return nil, "", err
	}
	content, err := s.contentAt(tx, documentID, document.Version)
	if err != nil {
		return nil, "", err
	}
	return document, content, nil
}

// Update changes the title and/or language. Privileged actors only.
func (s *Service) Update(ctx context.Context, documentID string, title, language *string, actor *users.User) (*Document, error) {
	if !actor.IsPrivileged() {
		return nil, &grid.PermissionError{Reason: "requires admin role"}
	}
	tx := s.db.WithContext(ctx)
	document, err := s.getDocument(tx, documentID)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if title != nil {
		if *title == "" {
			return nil, &grid.ValidationError{Reason: "document title is required"}
		}
		updates["title"] = *title
		document.Title = *title
	}
	if language != nil {
		if _, ok := ValidLanguages[*language]; !ok {
			return nil, &grid.ValidationError{Reason: "unsupported language: " + *language}
		}
		updates["language"] = *language
		document.Language = *language
	}
	if len(updates) == 0 {
		return document, nil
	}
	document.UpdatedAtS = s.clock().UTC().Unix()
	updates["updated_at_s"] = document.UpdatedAtS
	if err := tx.Model(&Document{}).Where("id = ?", documentID).Updates(updates).Error; err != nil {
		return nil, newServiceError("docs.update_document", "update_failed", err)
	}
	return document, nil
}

// Save commits new full content against the version the client last saw.
// A stale base version is rejected with the authoritative server state and
// no change; a closed document rejects non-privileged saves before the
// version is even compared. On success the version advances by exactly one
// and every room subscriber, the saver included, receives the update.
func (s *Service) Save(ctx context.Context, documentID string, baseVersion int64, content string, actor *users.User) (*Document, error) {
	var document *Document
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", documentID).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &grid.NotFoundError{Resource: "document", ID: documentID}
		}
		if err != nil {
			return newServiceError(opSaveDocument, "query_failed", err)
		}

		if current.Status == StatusClosed && !actor.IsPrivileged() {
			return &grid.PermissionError{Reason: "document is closed"}
		}
		if current.Version != baseVersion {
			serverContent, err := s.contentAt(tx, documentID, current.Version)
			if err != nil {
				return err
			}
			return &ConflictError{Version: current.Version, Content: serverContent}
		}

		now := s.clock().UTC().Unix()
		current.Version++
		current.UpdatedAtS = now

		snapshotID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opSaveDocument, "id_generation_failed", err)
		}
		snapshot := DocumentContent{
			ID:         snapshotID,
			DocumentID: documentID,
			Version:    current.Version,
			Content:    content,
			UpdatedBy:  actor.ID,
			UpdatedAtS: now,
		}
		if err := tx.Create(&snapshot).Error; err != nil {
			return newServiceError(opSaveDocument, "snapshot_insert_failed", err)
		}
		if err := tx.Model(&Document{}).Where("id = ?", documentID).
			Updates(map[string]any{"version": current.Version, "updated_at_s": now}).Error; err != nil {
			return newServiceError(opSaveDocument, "update_failed", err)
		}

		logID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opSaveDocument, "id_generation_failed", err)
		}
		entry := DocumentChangeLog{
			ID:          logID,
			DocumentID:  documentID,
			UserID:      actor.ID,
			Version:     current.Version,
			ContentSize: len(content),
			ChangedAtS:  now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return newServiceError(opSaveDocument, "changelog_insert_failed", err)
		}

		if err := s.pruneSnapshots(tx, documentID, current.Version); err != nil {
			return err
		}
		document = &current
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	event := docUpdatedEvent{
		Type:      hub.EventDocUpdated,
		Version:   document.Version,
		Content:   content,
		UpdatedBy: actor.Username,
	}
	if err := s.hub.Publish(Room(documentID), event, nil); err != nil {
		s.logger.Error("document broadcast failed",
			zap.String("document_id", documentID), zap.Error(err))
	}
	return document, nil
}

// pruneSnapshots drops content rows older than the retention window. The
// change log is never pruned.
func (s *Service) pruneSnapshots(tx *gorm.DB, documentID string, currentVersion int64) error {
	cutoff := currentVersion - VersionRetention
	if cutoff <= 0 {
		return nil
	}
	if err := tx.Where("document_id = ? AND version <= ?", documentID, cutoff).
		Delete(&DocumentContent{}).Error; err != nil {
		return newServiceError(opSaveDocument, "prune_failed", err)
	}
	return nil
}

// Close transitions OPEN → CLOSED and blocks non-privileged saves.
func (s *Service) Close(ctx context.Context, documentID string, actor *users.User) (*Document, error) {
	return s.setStatus(ctx, documentID, StatusClosed, actor)
}

// Reopen transitions CLOSED → OPEN.
func (s *Service) Reopen(ctx context.Context, documentID string, actor *users.User) (*Document, error) {
	return s.setStatus(ctx, documentID, StatusOpen, actor)
}

func (s *Service) setStatus(ctx context.Context, documentID, status string, actor *users.User) (*Document, error) {
	if !actor.IsPrivileged() {
		return nil, &grid.PermissionError{Reason: "requires admin role"}
	}
	tx := s.db.WithContext(ctx)
	document, err := s.getDocument(tx, documentID)
	if err != nil {
		return nil, err
	}
	if document.Status == status {
		return nil, &grid.ValidationError{Reason: "document already " + status}
	}

	now := s.clock().UTC().Unix()
	updates := map[string]any{"status": status, "updated_at_s": now}
	if status == StatusClosed {
		updates["closed_by"] = actor.ID
		updates["closed_at_s"] = now
		document.ClosedBy = &actor.ID
		document.ClosedAtS = &now
	} else {
		updates["closed_by"] = nil
		updates["closed_at_s"] = nil
		document.ClosedBy = nil
		document.ClosedAtS = nil
	}
	if err := tx.Model(&Document{}).Where("id = ?", documentID).Updates(updates).Error; err != nil {
		return nil, newServiceError(opSetStatus, "update_failed", err)
	}
	document.Status = status
	document.UpdatedAtS = now
	return document, nil
}

// History returns the newest save records, capped at the page limit.
func (s *Service) History(ctx context.Context, documentID string) ([]DocumentChangeLog, error) {
	tx := s.db.WithContext(ctx)
	if _, err := s.getDocument(tx, documentID); err != nil {
		return nil, err
	}
	var entries []DocumentChangeLog
	err := tx.Where("document_id = ?", documentID).
		Order("version DESC").Limit(historyLimit).Find(&entries).Error
	if err != nil {
		return nil, newServiceError("docs.document_history", "query_failed", err)
	}
	return entries, nil
}

// Delete removes a document with its snapshots and history.
func (s *Service) Delete(ctx context.Context, documentID string, actor *users.User) error {
	if !actor.IsPrivileged() {
		return &grid.PermissionError{Reason: "requires admin role"}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.getDocument(tx, documentID); err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&DocumentContent{}).Error; err != nil {
			return newServiceError(opDeleteDocument, "snapshot_delete_failed", err)
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&DocumentChangeLog{}).Error; err != nil {
			return newServiceError(opDeleteDocument, "changelog_delete_failed", err)
		}
		if err := tx.Where("id = ?", documentID).Delete(&Document{}).Error; err != nil {
			return newServiceError(opDeleteDocument, "delete_failed", err)
		}
		return nil
	})
}

// BatchDelete deletes every named document that exists and returns the
// number removed.
func (s *Service) BatchDelete(ctx context.Context, ids []string, actor *users.User) (int, error) {
	if !actor.IsPrivileged() {
		return 0, &grid.PermissionError{Reason: "requires admin role"}
	}
	deleted := 0
	for _, id := range ids {
		err := s.Delete(ctx, id, actor)
		if err != nil {
			var notFound *grid.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *Service) getDocument(tx *gorm.DB, documentID string) (*Document, error) {
	var document Document
	err := tx.Where("id = ?", documentID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &grid.NotFoundError{Resource: "document", ID: documentID}
	}
	if err != nil {
		return nil, err
	}
	return &document, nil
}

func (s *Service) contentAt(tx *gorm.DB, documentID string, version int64) (string, error) {
	var snapshot DocumentContent
	err := tx.Where("document_id = ? AND version = ?", documentID, version).Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Version row exists but its snapshot was pruned or never written.
		return "", &grid.NotFoundError{Resource: "document content", ID: documentID}
	}
	if err != nil {
		return "", newServiceError("docs.document_content", "query_failed", err)
	}
	return snapshot.Content, nil
}
