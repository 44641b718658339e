package auth

import (
	"context"
	"time"

	"github.com/aiclub/website-backend/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockCodeRepository is a mock implementation of repositories.CodeRepository
type MockCodeRepository struct {
	mock.Mock
}

func (m *MockCodeRepository) Create(ctx context.Context, code *models.VerificationCode) error {
	return m.Called(ctx, code).Error(0)
}

func (m *MockCodeRepository) FindActiveCode(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	args := m.Called(ctx, email, purpose)
	if c := args.Get(0); c != nil {
		return c.(*models.VerificationCode), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCodeRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockCodeRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockCodeRepository) InvalidateActive(ctx context.Context, email string, purpose models.CodePurpose, now time.Time) (int, error) {
	args := m.Called(ctx, email, purpose, now)
	return args.Int(0), args.Error(1)
}

func (m *MockCodeRepository) DeleteByEmailAndPurpose(ctx context.Context, email string, purpose models.CodePurpose, onlyUsed bool) error {
	return m.Called(ctx, email, purpose, onlyUsed).Error(0)
}

func (m *MockCodeRepository) Consume(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockSessionRepository is a mock implementation of repositories.SessionRepository
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session) error {
	return m.Called(ctx, session).Error(0)
}

func (m *MockSessionRepository) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	args := m.Called(ctx, token)
	if s := args.Get(0); s != nil {
		return s.(*models.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionRepository) RevokeByID(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSessionRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// MockUserRepository is a mock implementation of repositories.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) UpdateKey(ctx context.Context, id uuid.UUID, key string) error {
	return m.Called(ctx, id, key).Error(0)
}

func (m *MockUserRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}
