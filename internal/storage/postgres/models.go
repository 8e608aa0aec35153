package postgres

import (
	"time"

	"github.com/google/uuid"
)

// User is one row of the users table.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Nickname     string
	// Status is 1 for active, 0 for disabled.
	Status    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is one row of the roles table.
type Role struct {
	ID        uuid.UUID
	RoleKey   string
	RoleName  string
	SortOrder int
	CreatedAt time.Time
}

// Menu is one row of the menus table. A menu is the rule-bearing resource:
// when APIPath and Perms are both set, the row contributes one
// authorization rule.
type Menu struct {
	ID       uuid.UUID
	MenuName string
	// ParentID is nil for root menus.
	ParentID *uuid.UUID
	// APIPath is an Ant-style route pattern, empty for pure UI nodes.
	APIPath string
	// RequestMethod is an upper-case HTTP verb, empty meaning any.
	RequestMethod string
	// Perms is the permission identifier guarding the route.
	Perms     string
	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserParams collects the fields for a user insert.
type CreateUserParams struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Nickname     string
	Status       int
}

// CreateMenuParams collects the fields for a menu insert.
type CreateMenuParams struct {
	MenuName      string
	ParentID      *uuid.UUID
	APIPath       string
	RequestMethod string
	Perms         string
	SortOrder     int
}

// UpdateMenuParams collects the fields for a menu update.
type UpdateMenuParams struct {
	ID            uuid.UUID
	MenuName      string
	ParentID      *uuid.UUID
	APIPath       string
	RequestMethod string
	Perms         string
	SortOrder     int
}
