// Package users serves profile reads and updates of the User Directory.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/aiclub/website-backend/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder receives audit entries
type Recorder interface {
	Record(ctx context.Context, log *models.AuditLog)
}

// Actor is the authenticated caller of an operation
type Actor struct {
	ID   uuid.UUID
	Role models.UserRole
}

func (a Actor) canAccess(id uuid.UUID) bool {
	return a.ID == id || a.Role == models.RoleAdmin
}

// UpdateInput holds the fields a PATCH may change. Nil fields are left as is.
type UpdateInput struct {
	Name          *string
	Surname       *string
	StudentNumber *string
	Role          *models.UserRole
}

// Service reads and updates user profiles
type Service struct {
	users  repositories.UserRepository
	audit  Recorder
	logger *zap.Logger
}

// NewService creates a profile service; audit may be nil
func NewService(users repositories.UserRepository, audit Recorder, logger *zap.Logger) *Service {
	return &Service{users: users, audit: audit, logger: logger}
}

// Get returns user id as seen by actor. Only the user themself and admins may read it.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.User, error) {
	if !actor.canAccess(id) {
		return nil, services.ErrForbidden
	}
	return s.load(ctx, id)
}

// Update applies in to user id. Role changes require an admin actor.
func (s *Service) Update(ctx context.Context, actor Actor, id uuid.UUID, in UpdateInput) (*models.User, error) {
	if !actor.canAccess(id) {
		return nil, services.ErrForbidden
	}
	if in.Role != nil {
		if actor.Role != models.RoleAdmin {
			return nil, services.ErrForbidden.WithDetail("field", "role")
		}
		if !in.Role.Valid() {
			return nil, services.ErrInvalidRole.WithDetail("role", string(*in.Role))
		}
	}

	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := make([]string, 0, 4)
	if in.Name != nil {
		user.Name = in.Name
		changed = append(changed, "name")
	}
	if in.Surname != nil {
		user.Surname = in.Surname
		changed = append(changed, "surname")
	}
	if in.StudentNumber != nil {
		user.StudentNumber = in.StudentNumber
		changed = append(changed, "student_number")
	}
	if in.Role != nil && *in.Role != user.Role {
		user.Role = *in.Role
		changed = append(changed, "role")
	}
	if len(changed) == 0 {
		return user, nil
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("update user", err)
	}

	s.logger.Info("user updated",
		zap.String("user_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.Strings("fields", changed))
	if s.audit != nil {
		entry := models.NewAuditLog(models.AuditActionUserUpdated, user.Email).
			WithUser(id).
			WithDetails(map[string]interface{}{"actor_id": actor.ID, "fields": changed})
		entry.Timestamp = time.Now().UTC()
		s.audit.Record(ctx, entry)
	}
	return user, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("get user", err)
	}
	return user, nil
}
