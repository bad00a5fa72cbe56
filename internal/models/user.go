package models

import (
	"github.com/google/uuid"
)

// Roles carried in access tokens
const (
	RoleUser  = "user"
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// User is the read-only view of an account the engine needs
type User struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Email    string    `json:"email" db:"email"`
	Phone    string    `json:"phone" db:"phone"`
	Role     string    `json:"role" db:"role"`
	IsActive bool      `json:"is_active" db:"is_active"`
}

// Actor is the authenticated caller of an operation
type Actor struct {
	UserID uuid.UUID
	Email  string
	Roles  []string
}

// HasRole reports whether the actor carries role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor may use the override surface.
func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// SystemActor is used by background jobs.
var SystemActor = Actor{UserID: uuid.Nil, Roles: []string{RoleAdmin}}
