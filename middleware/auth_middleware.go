package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/aiclub/website-backend/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenVerifier checks an access token and returns its subject user id
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// UserLookup resolves the subject of a verified token
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier     TokenVerifier
	users        UserLookup
	accessCookie string
	logger       *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. accessCookie is the cookie
// consulted when no Authorization header is present.
func NewAuthMiddleware(verifier TokenVerifier, users UserLookup, accessCookie string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:     verifier,
		users:        users,
		accessCookie: accessCookie,
		logger:       logger,
	}
}

// RequireAuth is a middleware that requires a valid access token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := m.extractToken(r)
		if token == "" {
			m.logger.Debug("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		userID, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		user, err := m.users.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				m.logger.Warn("token subject no longer exists",
					zap.String("request_id", requestID),
					zap.String("user_id", userID.String()))
				_ = utils.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			m.logger.Error("user lookup failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}

		ctx = WithPrincipal(ctx, &Principal{UserID: user.ID, Email: user.Email, Role: user.Role})

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID.String()))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires one of roles. It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			principal := GetPrincipalFromContext(ctx)
			if principal == nil {
				m.logger.Error("principal not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			m.logger.Warn("insufficient permissions",
				zap.String("request_id", requestID),
				zap.String("user_id", principal.UserID.String()),
				zap.String("role", string(principal.Role)))
			_ = utils.WriteForbidden(w, "Insufficient permissions")
		})
	}
}

// extractToken reads the Authorization header first and falls back to the access cookie
func (m *AuthMiddleware) extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if m.accessCookie != "" {
		if cookie, err := r.Cookie(m.accessCookie); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
