package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aiclub/website-backend/middleware"
	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories/memory"
	"github.com/aiclub/website-backend/services/users"
	"github.com/aiclub/website-backend/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type userBody struct {
	Data UserResponse `json:"data"`
}

func newUserRouter(t *testing.T) (http.Handler, *models.User) {
	t.Helper()
	repos := memory.NewStore().Repositories()
	user := models.NewUser("student@x.com", "k")
	require.NoError(t, repos.Users.Create(context.Background(), user))

	h := NewUserHandler(users.NewService(repos.Users, nil, zap.NewNop()), zap.NewNop())
	r := chi.NewRouter()
	r.Get("/api/v1/users/me", h.HandleMe)
	r.Get("/api/v1/users/{id}", h.HandleGet)
	r.Patch("/api/v1/users/{id}", h.HandleUpdate)
	return r, user
}

func asPrincipal(req *http.Request, id uuid.UUID, role models.UserRole) *http.Request {
	return req.WithContext(middleware.WithPrincipal(req.Context(), &middleware.Principal{UserID: id, Role: role}))
}

func TestUserHandler_Me(t *testing.T) {
	router, user := newUserRouter(t)

	t.Run("returns own profile", func(t *testing.T) {
		req := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil), user.ID, models.RoleStudent)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var body userBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, user.ID, body.Data.ID)
		assert.Equal(t, "student@x.com", body.Data.Email)
		assert.Equal(t, models.RoleStudent, body.Data.Role)
		assert.NotContains(t, rec.Body.String(), `"key"`)
	})

	t.Run("requires principal", func(t *testing.T) {
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestUserHandler_Get(t *testing.T) {
	router, user := newUserRouter(t)

	tests := []struct {
		name   string
		path   string
		actor  uuid.UUID
		role   models.UserRole
		status int
	}{
		{"admin reads any user", "/api/v1/users/" + user.ID.String(), uuid.New(), models.RoleAdmin, http.StatusOK},
		{"other member is forbidden", "/api/v1/users/" + user.ID.String(), uuid.New(), models.RoleMember, http.StatusForbidden},
		{"unknown user", "/api/v1/users/" + uuid.NewString(), uuid.New(), models.RoleAdmin, http.StatusNotFound},
		{"malformed id", "/api/v1/users/not-a-uuid", user.ID, models.RoleStudent, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asPrincipal(httptest.NewRequest(http.MethodGet, tt.path, nil), tt.actor, tt.role)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestUserHandler_Update(t *testing.T) {
	t.Run("student updates own profile", func(t *testing.T) {
		router, user := newUserRouter(t)
		req := asPrincipal(jsonRequest(http.MethodPatch, "/api/v1/users/"+user.ID.String(),
			`{"name":"Ana","studentNumber":"A123"}`), user.ID, models.RoleStudent)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body userBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.NotNil(t, body.Data.Name)
		assert.Equal(t, "Ana", *body.Data.Name)
		require.NotNil(t, body.Data.StudentNumber)
		assert.Equal(t, "A123", *body.Data.StudentNumber)
	})

	t.Run("student cannot change role", func(t *testing.T) {
		router, user := newUserRouter(t)
		req := asPrincipal(jsonRequest(http.MethodPatch, "/api/v1/users/"+user.ID.String(),
			`{"role":"ADMIN"}`), user.ID, models.RoleStudent)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		var body utils.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "role", body.Details["field"])
	})

	t.Run("admin promotes member", func(t *testing.T) {
		router, user := newUserRouter(t)
		req := asPrincipal(jsonRequest(http.MethodPatch, "/api/v1/users/"+user.ID.String(),
			`{"role":"MEMBER"}`), uuid.New(), models.RoleAdmin)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body userBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, models.RoleMember, body.Data.Role)
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		router, user := newUserRouter(t)
		req := asPrincipal(jsonRequest(http.MethodPatch, "/api/v1/users/"+user.ID.String(),
			`{"role":"ROOT"}`), uuid.New(), models.RoleAdmin)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects overlong name", func(t *testing.T) {
		router, user := newUserRouter(t)
		req := asPrincipal(jsonRequest(http.MethodPatch, "/api/v1/users/"+user.ID.String(),
			`{"name":"`+strings.Repeat("x", 101)+`"}`), user.ID, models.RoleStudent)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		router, user := newUserRouter(t)
		req := asPrincipal(jsonRequest(http.MethodPatch, "/api/v1/users/"+user.ID.String(), `{`), user.ID, models.RoleStudent)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
