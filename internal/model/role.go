package model

import (
	"strings"

	"github.com/google/uuid"
)

const (
	RoleAdministrador = "Administrador"
	RoleUsuario       = "Usuário"
)

type Role struct {
	Base
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description,omitempty" db:"description"`
	Sector      string        `json:"sector,omitempty" db:"sector"`
	Permissions PermissionSet `json:"permissions" db:"-"`
	IsActive    bool          `json:"is_active" db:"is_active"`
}

// IsAdministratorName reports whether name designates the protected
// administrator role.
func IsAdministratorName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return n == "administrador" || n == "admin"
}

func (r *Role) IsAdministrator() bool {
	return IsAdministratorName(r.Name)
}

// UserRole links a user to a role.
type UserRole struct {
	UserID uuid.UUID `json:"user_id" db:"user_id"`
	RoleID uuid.UUID `json:"role_id" db:"role_id"`
}
