package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/minzkn/openspace/internal/auth"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrUnknownUser indicates the username does not resolve to an active account.
	ErrUnknownUser = errors.New("users: unknown user")
	// ErrBadCredentials indicates a password mismatch.
	ErrBadCredentials = errors.New("users: bad credentials")
	noOpLogger        = zap.NewNop()
)

const (
	opServiceNew      = "users.service.new"
	opAuthenticate    = "users.authenticate"
	opEnsureBootstrap = "users.ensure_bootstrap"
	opGetByID         = "users.get_by_id"
)

func newServiceError(operation, reason string, cause error) error {
	return fmt.Errorf("%s.%s: %w", operation, reason, cause)
}

// IDProvider issues identifiers for new user rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires the user service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages local accounts and credential checks.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Authenticate resolves an active account by username and verifies the password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	normalized, err := NormalizeUsername(username)
	if err != nil {
		return nil, ErrUnknownUser
	}

	var user User
	err = s.db.WithContext(ctx).
		Where("username = ? AND is_active = ?", normalized, true).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		s.logger.Error("user lookup failed",
			zap.String("operation", opAuthenticate), zap.Error(err))
		return nil, newServiceError(opAuthenticate, "query_failed", err)
	}

	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	return &user, nil
}

// GetByID loads an active account by its identifier.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		s.logger.Error("user lookup failed",
			zap.String("operation", opGetByID), zap.Error(err))
		return nil, newServiceError(opGetByID, "query_failed", err)
	}
	return &user, nil
}

// EnsureBootstrapAdmin creates the initial super-admin account when no users exist.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, username, password string) error {
	normalized, err := NormalizeUsername(username)
	if err != nil {
		return newServiceError(opEnsureBootstrap, "invalid_username", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		return newServiceError(opEnsureBootstrap, "count_failed", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return newServiceError(opEnsureBootstrap, "hash_failed", err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opEnsureBootstrap, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	user := User{
		ID:           id,
		Username:     normalized,
		PasswordHash: hash,
		Role:         RoleSuperAdmin,
		IsActive:     true,
		CreatedAtS:   now,
		UpdatedAtS:   now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return newServiceError(opEnsureBootstrap, "insert_failed", err)
	}
	s.logger.Info("bootstrap admin created", zap.String("username", normalized))
	return nil
}
