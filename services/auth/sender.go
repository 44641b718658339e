package auth

import (
	"context"

	"github.com/aiclub/website-backend/models"
	"go.uber.org/zap"
)

// CodeSender delivers a raw one-time code to its owner
type CodeSender interface {
	SendCode(ctx context.Context, email, code string, purpose models.CodePurpose) error
}

// NopSender discards codes
type NopSender struct{}

func (NopSender) SendCode(context.Context, string, string, models.CodePurpose) error { return nil }

// LogSender writes codes to the log. Development only.
type LogSender struct {
	Logger *zap.Logger
}

func (l LogSender) SendCode(ctx context.Context, email, code string, purpose models.CodePurpose) error {
	l.Logger.Debug("verification code issued",
		zap.String("email", email),
		zap.String("code", code),
		zap.String("purpose", string(purpose)))
	return nil
}
