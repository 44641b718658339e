package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aiclub/website-backend/middleware"
	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/services/users"
	"github.com/aiclub/website-backend/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserService is the profile surface used by UserHandler
type UserService interface {
	Get(ctx context.Context, actor users.Actor, id uuid.UUID) (*models.User, error)
	Update(ctx context.Context, actor users.Actor, id uuid.UUID, in users.UpdateInput) (*models.User, error)
}

// UserResponse is the public projection of a user
type UserResponse struct {
	ID            uuid.UUID       `json:"id"`
	Email         string          `json:"email"`
	Role          models.UserRole `json:"role"`
	Name          *string         `json:"name,omitempty"`
	Surname       *string         `json:"surname,omitempty"`
	StudentNumber *string         `json:"studentNumber,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// UpdateUserRequest is the body of PATCH /api/v1/users/{id}
type UpdateUserRequest struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Surname       *string `json:"surname,omitempty" validate:"omitempty,max=100"`
	StudentNumber *string `json:"studentNumber,omitempty" validate:"omitempty,max=32"`
	Role          *string `json:"role,omitempty" validate:"omitempty,oneof=STUDENT MEMBER ADMIN"`
}

// UserHandler serves /api/v1/users
type UserHandler struct {
	svc    UserService
	logger *zap.Logger
}

// NewUserHandler creates a UserHandler
func NewUserHandler(svc UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{svc: svc, logger: logger}
}

// HandleMe handles GET /api/v1/users/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	h.get(w, r, actor, actor.ID)
}

// HandleGet handles GET /api/v1/users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := utils.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	h.get(w, r, actor, id)
}

func (h *UserHandler) get(w http.ResponseWriter, r *http.Request, actor users.Actor, id uuid.UUID) {
	user, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, toUserResponse(user))
}

// HandleUpdate handles PATCH /api/v1/users/{id}
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := utils.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	var req UpdateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	in := users.UpdateInput{
		Name:          req.Name,
		Surname:       req.Surname,
		StudentNumber: req.StudentNumber,
	}
	if req.Role != nil {
		role := models.UserRole(*req.Role)
		in.Role = &role
	}

	user, err := h.svc.Update(r.Context(), actor, id, in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, toUserResponse(user))
}

func (h *UserHandler) actor(w http.ResponseWriter, r *http.Request) (users.Actor, bool) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return users.Actor{}, false
	}
	return users.Actor{ID: p.UserID, Role: p.Role}, true
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		Name:          u.Name,
		Surname:       u.Surname,
		StudentNumber: u.StudentNumber,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
