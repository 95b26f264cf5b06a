package users

import (
	"errors"
	"fmt"
	"strings"
)

// Role enumerates account privilege tiers, ordered by rank.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUsername indicates that a username is empty or exceeds storage bounds.
	ErrInvalidUsername = errors.New("users: invalid username")
	// ErrInvalidRole indicates an unknown role value.
	ErrInvalidRole = errors.New("users: invalid role")
)

var roleRanks = map[Role]int{
	RoleUser:       0,
	RoleAdmin:      1,
	RoleSuperAdmin: 2,
}

// ParseRole validates raw input and returns a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := roleRanks[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	return role, nil
}

// Rank returns the ordering position of the role; unknown roles rank below USER.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// NormalizeUsername validates and trims a raw username.
func NormalizeUsername(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUsername, maxIdentifierLength)
	}
	return trimmed, nil
}

// User models a local account with role-based privileges.
type User struct {
	ID           string `gorm:"column:id;primaryKey;size:190;not null"`
	Username     string `gorm:"column:username;size:190;not null;uniqueIndex"`
	PasswordHash string `gorm:"column:password_hash;type:text;not null"`
	Role         Role   `gorm:"column:role;size:32;not null;default:USER"`
	IsActive     bool   `gorm:"column:is_active;not null;default:true"`
	CreatedAtS   int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtS   int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// IsPrivileged reports whether the user may perform admin-gated mutations.
func (u *User) IsPrivileged() bool {
	if u == nil {
		return false
	}
	return u.Role.Rank() >= RoleAdmin.Rank()
}

// CanManage reports whether actor may administer target's account.
// Admins cannot touch super-admin accounts.
func (u *User) CanManage(target *User) bool {
	if u == nil || target == nil {
		return false
	}
	switch u.Role {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return target.Role != RoleSuperAdmin
	default:
		return false
	}
}
