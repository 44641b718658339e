package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionRepository implements the repositories.SessionRepository interface
type SessionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, logger *zap.Logger) repositories.SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a session keyed by the token digest
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, token_hash, user_id, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		repositories.HashToken(session.Token),
		session.UserID,
		session.ExpiresAt,
		session.Revoked,
		session.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrDuplicate
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Debug("session created",
		zap.String("id", session.ID.String()),
		zap.String("user_id", session.UserID.String()))
	return nil
}

// FindByToken retrieves a session and its owner by raw token
func (r *SessionRepository) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT s.id, s.user_id, s.expires_at, s.revoked, s.created_at,
		       u.id, u.email, u.role, u.key, u.name, u.surname, u.student_number, u.created_at, u.updated_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
	`

	session := &models.Session{User: &models.User{}}
	user := session.User
	err := r.db.QueryRowContext(ctx, query, repositories.HashToken(token)).Scan(
		&session.ID,
		&session.UserID,
		&session.ExpiresAt,
		&session.Revoked,
		&session.CreatedAt,
		&user.ID,
		&user.Email,
		&user.Role,
		&user.Key,
		&user.Name,
		&user.Surname,
		&user.StudentNumber,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// RevokeByID revokes a live session. Zero affected rows means it was already revoked.
func (r *SessionRepository) RevokeByID(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET revoked = true WHERE id = $1 AND revoked = false`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return requireAffected(res, repositories.ErrNotFound)
}

// RevokeAllForUser revokes every unrevoked session of the user
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `UPDATE sessions SET revoked = true WHERE user_id = $1 AND revoked = false`

	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("sessions revoked", zap.String("user_id", userID.String()), zap.Int64("count", n))
	return n, nil
}
