package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CodeRepository implements the repositories.CodeRepository interface
type CodeRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCodeRepository creates a new verification code repository
func NewCodeRepository(db *DB, logger *zap.Logger) repositories.CodeRepository {
	return &CodeRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new code
func (r *CodeRepository) Create(ctx context.Context, code *models.VerificationCode) error {
	query := `
		INSERT INTO verification_codes (id, email, hashed_code, purpose, expiry, used, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		code.ID,
		code.Email,
		code.HashedCode,
		code.Purpose,
		code.Expiry,
		code.Used,
		code.Attempts,
		code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification code: %w", err)
	}

	r.logger.Debug("verification code created",
		zap.String("id", code.ID.String()),
		zap.String("purpose", string(code.Purpose)))
	return nil
}

// FindActiveCode returns the most recent unused code for email and purpose
func (r *CodeRepository) FindActiveCode(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	query := `
		SELECT id, email, hashed_code, purpose, expiry, used, attempts, created_at
		FROM verification_codes
		WHERE email = $1 AND purpose = $2 AND used = false
		ORDER BY created_at DESC
		LIMIT 1
	`

	code := &models.VerificationCode{}
	err := r.db.QueryRowContext(ctx, query, email, purpose).Scan(
		&code.ID,
		&code.Email,
		&code.HashedCode,
		&code.Purpose,
		&code.Expiry,
		&code.Used,
		&code.Attempts,
		&code.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find verification code: %w", err)
	}

	return code, nil
}

// MarkUsed retires an unused code. Zero affected rows means another caller got there first.
func (r *CodeRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE verification_codes SET used = true WHERE id = $1 AND used = false`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark verification code used: %w", err)
	}
	return requireAffected(res, repositories.ErrNotFound)
}

// IncrementAttempts adds one to the attempt counter
func (r *CodeRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE verification_codes SET attempts = attempts + 1 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return requireAffected(res, repositories.ErrNotFound)
}

// InvalidateActive retires every unused code and reports how many were still live
func (r *CodeRepository) InvalidateActive(ctx context.Context, email string, purpose models.CodePurpose, now time.Time) (int, error) {
	query := `
		WITH retired AS (
			UPDATE verification_codes SET used = true
			WHERE email = $1 AND purpose = $2 AND used = false
			RETURNING expiry
		)
		SELECT COUNT(*) FROM retired WHERE expiry >= $3
	`

	var live int
	if err := r.db.QueryRowContext(ctx, query, email, purpose, now).Scan(&live); err != nil {
		return 0, fmt.Errorf("failed to invalidate verification codes: %w", err)
	}
	return live, nil
}

// DeleteByEmailAndPurpose removes codes for email and purpose
func (r *CodeRepository) DeleteByEmailAndPurpose(ctx context.Context, email string, purpose models.CodePurpose, onlyUsed bool) error {
	query := `DELETE FROM verification_codes WHERE email = $1 AND purpose = $2`
	if onlyUsed {
		query += ` AND used = true`
	}

	if _, err := r.db.ExecContext(ctx, query, email, purpose); err != nil {
		return fmt.Errorf("failed to delete verification codes: %w", err)
	}
	return nil
}

// Consume deletes the code only while it is still unused
func (r *CodeRepository) Consume(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM verification_codes WHERE id = $1 AND used = false`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to consume verification code: %w", err)
	}
	return requireAffected(res, repositories.ErrNotFound)
}

// DeleteExpired removes codes that expired before the cutoff
func (r *CodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM verification_codes WHERE expiry < $1`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
