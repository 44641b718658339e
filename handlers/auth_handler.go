package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aiclub/website-backend/middleware"
	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/services/auth"
	"github.com/aiclub/website-backend/utils"
	"go.uber.org/zap"
)

// AuthService is the orchestrator surface used by AuthHandler
type AuthService interface {
	RequestCode(ctx context.Context, email string) (*auth.CodeResult, error)
	RequestResetCode(ctx context.Context, email string) (*auth.CodeResult, error)
	SignIn(ctx context.Context, email, code string) (*auth.Result, error)
	Refresh(ctx context.Context, sessionToken string) (*auth.Result, error)
	ResetCredential(ctx context.Context, email, code string) (*auth.Result, error)
	SignOut(ctx context.Context, sessionToken string) (*auth.Result, error)
}

// EmailRequest is the body of send-code and send-reset-code
type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// CodeRequest is the body of signin and reset-key
type CodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,otp"`
}

// RefreshRequest is the optional body of refresh when no session cookie is sent
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SignInResponse is returned by signin
type SignInResponse struct {
	Role models.UserRole `json:"role"`
}

// RefreshResponse is returned by refresh
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// ResetKeyResponse is returned by reset-key
type ResetKeyResponse struct {
	OK bool `json:"ok"`
}

// AuthHandler serves the /auth endpoints
type AuthHandler struct {
	svc           AuthService
	sessionCookie string
	logger        *zap.Logger
}

// NewAuthHandler creates an AuthHandler. sessionCookie names the cookie
// carrying the session token.
func NewAuthHandler(svc AuthService, sessionCookie string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, sessionCookie: sessionCookie, logger: logger}
}

// HandleSendCode handles POST /auth/send-code
func (h *AuthHandler) HandleSendCode(w http.ResponseWriter, r *http.Request) {
	h.sendCode(w, r, h.svc.RequestCode)
}

// HandleSendResetCode handles POST /auth/send-reset-code
func (h *AuthHandler) HandleSendResetCode(w http.ResponseWriter, r *http.Request) {
	h.sendCode(w, r, h.svc.RequestResetCode)
}

func (h *AuthHandler) sendCode(w http.ResponseWriter, r *http.Request, issue func(context.Context, string) (*auth.CodeResult, error)) {
	var req EmailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = utils.NormalizeEmail(req.Email)
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	res, err := issue(r.Context(), req.Email)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, res)
}

// HandleSignIn handles POST /auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	res, err := h.svc.SignIn(r.Context(), req.Email, req.Code)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.applyCookies(w, r, res)
	_ = utils.WriteJSON(w, http.StatusOK, SignInResponse{Role: res.Role})
}

// HandleRefresh handles POST /auth/refresh. The session token is read from
// the session cookie, or from the JSON body when the cookie is absent.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token := h.sessionToken(r)
	if token == "" && r.ContentLength != 0 {
		var req RefreshRequest
		if !decodeBody(w, r, &req) {
			return
		}
		token = req.RefreshToken
	}

	res, err := h.svc.Refresh(r.Context(), token)
	if res != nil {
		h.applyCookies(w, r, res)
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, RefreshResponse{AccessToken: res.Credentials.AccessToken})
}

// HandleResetKey handles POST /auth/reset-key
func (h *AuthHandler) HandleResetKey(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	res, err := h.svc.ResetCredential(r.Context(), req.Email, req.Code)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.applyCookies(w, r, res)
	_ = utils.WriteJSON(w, http.StatusOK, ResetKeyResponse{OK: true})
}

// HandleLogout handles POST /auth/logout. Cookies are cleared even when the
// session could not be revoked.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SignOut(r.Context(), h.sessionToken(r))
	if res != nil {
		h.applyCookies(w, r, res)
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

func (h *AuthHandler) decodeCode(w http.ResponseWriter, r *http.Request) (*CodeRequest, bool) {
	var req CodeRequest
	if !decodeBody(w, r, &req) {
		return nil, false
	}
	req.Email = utils.NormalizeEmail(req.Email)
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return nil, false
	}
	return &req, true
}

// decodeBody decodes a JSON body and writes 413 or 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := utils.DecodeJSON(w, r, dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			_ = utils.WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), nil)
			return false
		}
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return false
	}
	return true
}

func (h *AuthHandler) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(h.sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// applyCookies writes the set and clear directives of res. Secure is forced
// on whenever the request itself arrived over TLS.
func (h *AuthHandler) applyCookies(w http.ResponseWriter, r *http.Request, res *auth.Result) {
	secure := middleware.IsSecureRequest(r)

	for _, d := range res.Cookies {
		http.SetCookie(w, &http.Cookie{
			Name:     d.Name,
			Value:    d.Value,
			Path:     d.Path,
			MaxAge:   d.MaxAge,
			Expires:  time.Now().Add(time.Duration(d.MaxAge) * time.Second),
			HttpOnly: d.HTTPOnly,
			SameSite: d.SameSite,
			Secure:   d.Secure || secure,
		})
	}
	for _, c := range res.ClearCookies {
		http.SetCookie(w, &http.Cookie{
			Name:     c.Name,
			Value:    "",
			Path:     c.Path,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   secure,
		})
	}
}
