package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Username     string     `json:"username" db:"username"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Profile      string     `json:"profile,omitempty" db:"profile"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	Roles        []*Role    `json:"roles,omitempty" db:"-"`
}

// Sector is the workflow area a principal lands on by default.
type Sector string

const (
	SectorRegulation Sector = "regulacao"
	SectorOutpatient Sector = "ambulatorio"
	SectorOrigin     Sector = "ubs"
	SectorPanel      Sector = "painel"
)

// Principal is the authenticated actor passed into every workflow
// operation. Permissions holds the resolved effective set.
type Principal struct {
	UserID      uuid.UUID     `json:"user_id"`
	Username    string        `json:"username"`
	Name        string        `json:"name"`
	Roles       []string      `json:"roles"`
	Permissions PermissionSet `json:"permissions"`
}

// DisplayName is the name written into audit entries.
func (p *Principal) DisplayName() string {
	switch {
	case p == nil:
		return "Usuário"
	case p.Name != "":
		return p.Name
	case p.Username != "":
		return p.Username
	}
	return "Usuário"
}

// Clone returns a deep copy of p.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = append([]string(nil), p.Roles...)
	c.Permissions = NewPermissionSet(p.Permissions.Names()...)
	return &c
}
