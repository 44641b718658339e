package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a long-lived refresh credential. Sessions are revoked, never deleted.
type Session struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Token     string    `json:"-" db:"-"` // raw token, only populated on creation
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Revoked   bool      `json:"revoked" db:"revoked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// User is loaded alongside the session by FindByToken
	User *User `json:"user,omitempty" db:"-"`
}

// TableName returns the table name for the Session model
func (Session) TableName() string {
	return "sessions"
}

// NewSession creates a session for userID that expires at expiresAt
func NewSession(token string, userID uuid.UUID, expiresAt time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
}

// IsUsable reports whether the session is unrevoked and unexpired
func (s *Session) IsUsable(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}
