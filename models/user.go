package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole represents the platform role of a user
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleMember  UserRole = "MEMBER"
	RoleAdmin   UserRole = "ADMIN"
)

// Valid reports whether r is one of the known roles
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleMember, RoleAdmin:
		return true
	}
	return false
}

// User represents a platform user. Email is the external identity anchor;
// ID is what access tokens carry.
type User struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Email         string    `json:"email" db:"email"`
	Role          UserRole  `json:"role" db:"role"`
	Key           string    `json:"-" db:"key"` // credential-reset secret
	Name          *string   `json:"name,omitempty" db:"name"`
	Surname       *string   `json:"surname,omitempty" db:"surname"`
	StudentNumber *string   `json:"student_number,omitempty" db:"student_number"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User with the default STUDENT role
func NewUser(email, key string) *User {
	now := time.Now().UTC()
	return &User{
		ID:        uuid.New(),
		Email:     email,
		Role:      RoleStudent,
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsAdmin returns true if the user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasRole returns true if the user holds any of the given roles
func (u *User) HasRole(roles ...UserRole) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}
