package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/aiclub/website-backend/services"
	"go.uber.org/zap"
)

const (
	codeSpace         = 1000000 // 000000-999999
	userKeyBytes      = 32
	sessionTokenBytes = 64
)

var codeSpaceBig = big.NewInt(codeSpace)

// issueCode retires outstanding codes for (email, purpose), stores a new one
// and hands the raw code to the sender
func (s *Service) issueCode(ctx context.Context, email string, purpose models.CodePurpose) (*CodeResult, error) {
	raw, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	live, err := s.codes.InvalidateActive(ctx, email, purpose, now)
	if err != nil {
		return nil, services.WrapInternal("invalidate codes", err)
	}
	if err := s.codes.DeleteByEmailAndPurpose(ctx, email, purpose, true); err != nil {
		return nil, services.WrapInternal("delete used codes", err)
	}

	code := models.NewVerificationCode(email, hashCode(raw), purpose, now.Add(s.cfg.CodeTTL))
	code.CreatedAt = now.UTC()
	if err := s.codes.Create(ctx, code); err != nil {
		return nil, services.WrapInternal("create code", err)
	}

	if err := s.sender.SendCode(ctx, email, raw, purpose); err != nil {
		return nil, services.ErrDeliveryFailed.Wrap(err)
	}

	s.record(ctx, models.NewAuditLog(models.AuditActionCodeRequested, email).
		WithDetails(map[string]interface{}{"purpose": purpose, "resend": live > 0}))

	return &CodeResult{Resend: live > 0, Expiry: code.Expiry}, nil
}

// verifyCode checks code against the most recent unused code for (email,
// purpose) and consumes it on success. Wrong, expired and missing codes all
// fail with ErrInvalidOrExpiredCode; internally a wrong code also counts an
// attempt while an expired one is only retired.
func (s *Service) verifyCode(ctx context.Context, email, code string, purpose models.CodePurpose) error {
	rec, err := s.codes.FindActiveCode(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrInvalidOrExpiredCode
		}
		return services.WrapInternal("find code", err)
	}

	if rec.IsExpired(s.now()) {
		if err := s.retire(ctx, rec); err != nil {
			return err
		}
		return services.ErrInvalidOrExpiredCode
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(rec.HashedCode)) != 1 {
		if err := s.retire(ctx, rec); err != nil {
			return err
		}
		if err := s.codes.IncrementAttempts(ctx, rec.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return services.WrapInternal("increment attempts", err)
		}
		s.logger.Debug("verification code mismatch",
			zap.String("code_id", rec.ID.String()),
			zap.String("purpose", string(purpose)))
		return services.ErrInvalidOrExpiredCode
	}

	if err := s.codes.Consume(ctx, rec.ID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// consumed or retired by a concurrent request
			return services.ErrInvalidOrExpiredCode
		}
		return services.WrapInternal("consume code", err)
	}
	return nil
}

// retire marks rec used. A concurrent retirement is already the desired state.
func (s *Service) retire(ctx context.Context, rec *models.VerificationCode) error {
	if err := s.codes.MarkUsed(ctx, rec.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return services.WrapInternal("mark code used", err)
	}
	return nil
}

func (s *Service) generateCode() (string, error) {
	n, err := rand.Int(s.random, codeSpaceBig)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *Service) randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashCode(code string) string {
	return repositories.HashToken(code)
}
