package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/aiclub/website-backend/models"
)

var (
	// ErrNotFound is returned when a row does not exist, or when a conditional
	// update matched no row because it already reached its terminal state
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("duplicate record")
)

// CodeRepository handles one-time verification code storage (the Code Store)
type CodeRepository interface {
	// Create inserts a new code
	Create(ctx context.Context, code *models.VerificationCode) error

	// FindActiveCode returns the most recent unused code for email and purpose.
	// Expired codes are returned too; the caller decides on expiry.
	FindActiveCode(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error)

	// MarkUsed flips used=false to used=true. Returns ErrNotFound if the code
	// is gone or was already used.
	MarkUsed(ctx context.Context, id uuid.UUID) error

	// IncrementAttempts adds one to the attempt counter
	IncrementAttempts(ctx context.Context, id uuid.UUID) error

	// InvalidateActive marks every unused code for email and purpose as used
	// and returns how many of them were still unexpired at now
	InvalidateActive(ctx context.Context, email string, purpose models.CodePurpose, now time.Time) (int, error)

	// DeleteByEmailAndPurpose removes codes for email and purpose, limited to
	// used codes when onlyUsed is set
	DeleteByEmailAndPurpose(ctx context.Context, email string, purpose models.CodePurpose, onlyUsed bool) error

	// Consume deletes the code only while it is still unused. Returns
	// ErrNotFound if another caller consumed or retired it first.
	Consume(ctx context.Context, id uuid.UUID) error

	// DeleteExpired removes codes whose expiry is before the cutoff
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SessionRepository handles refresh session storage (the Session Store)
type SessionRepository interface {
	// Create persists a session. Only a digest of session.Token is stored.
	Create(ctx context.Context, session *models.Session) error

	// FindByToken retrieves a session by its raw token, with User populated
	FindByToken(ctx context.Context, token string) (*models.Session, error)

	// RevokeByID flips revoked=false to revoked=true. Returns ErrNotFound if
	// the session is gone or was already revoked.
	RevokeByID(ctx context.Context, id uuid.UUID) error

	// RevokeAllForUser revokes every unrevoked session of the user
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// UserRepository handles user data operations (the User Directory)
type UserRepository interface {
	// Create creates a new user. Returns ErrDuplicate if the email is taken.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// FindByEmail retrieves a user by email
	FindByEmail(ctx context.Context, email string) (*models.User, error)

	// UpdateKey replaces the user's credential-reset key
	UpdateKey(ctx context.Context, id uuid.UUID, key string) error

	// UpdateProfile writes role and profile fields
	UpdateProfile(ctx context.Context, user *models.User) error
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// ListRecent retrieves audit logs newest first with pagination
	ListRecent(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)

	// ListByUser retrieves audit logs for a user newest first with pagination
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Codes     CodeRepository
	Sessions  SessionRepository
	Users     UserRepository
	AuditLogs AuditRepository
}
