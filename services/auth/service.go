// Package auth implements sign-in by emailed one-time code, access-token
// issuance, session rotation and credential reset.
//
// No state is kept in process. Each operation reconstructs the identity's
// state from the code and session stores and relies on their conditional
// updates for concurrency safety.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aiclub/website-backend/internal/shared"
	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/aiclub/website-backend/services"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/aiclub/website-backend/services/auth"

// Defaults applied by NewService when a Config field is zero
const (
	DefaultAccessTTL     = 30 * time.Minute
	DefaultSessionTTL    = 7 * 24 * time.Hour
	DefaultCodeTTL       = 3 * time.Minute
	DefaultAccessCookie  = "access_token"
	DefaultSessionCookie = "session_id"
)

// TokenIssuer mints and verifies access tokens
type TokenIssuer interface {
	Issue(subject uuid.UUID, ttl time.Duration) (string, time.Time, error)
	Verify(token string) (uuid.UUID, error)
}

// Recorder receives audit entries. Implementations must not block.
type Recorder interface {
	Record(ctx context.Context, log *models.AuditLog)
}

// Config is the explicitly constructed lifecycle configuration
type Config struct {
	AccessTTL     time.Duration
	SessionTTL    time.Duration
	CodeTTL       time.Duration
	AccessCookie  string
	SessionCookie string
	CookiePath    string
	CookieSecure  bool
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.AccessCookie == "" {
		c.AccessCookie = DefaultAccessCookie
	}
	if c.SessionCookie == "" {
		c.SessionCookie = DefaultSessionCookie
	}
	if c.CookiePath == "" {
		c.CookiePath = "/"
	}
	return c
}

// Deps are the collaborators of the Service
type Deps struct {
	Codes    repositories.CodeRepository
	Sessions repositories.SessionRepository
	Users    repositories.UserRepository
	Tokens   TokenIssuer
	Sender   CodeSender
	Audit    Recorder
	Logger   *zap.Logger
}

// Service is the auth orchestrator
type Service struct {
	codes    repositories.CodeRepository
	sessions repositories.SessionRepository
	users    repositories.UserRepository
	tokens   TokenIssuer
	sender   CodeSender
	audit    Recorder
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	random   io.Reader
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom replaces the entropy source used for codes, keys and session tokens
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

// WithTracer replaces the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService creates the auth orchestrator
func NewService(deps Deps, cfg Config, opts ...Option) *Service {
	s := &Service{
		codes:    deps.Codes,
		sessions: deps.Sessions,
		users:    deps.Users,
		tokens:   deps.Tokens,
		sender:   deps.Sender,
		audit:    deps.Audit,
		cfg:      cfg.withDefaults(),
		logger:   deps.Logger,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		random:   rand.Reader,
	}
	if s.sender == nil {
		s.sender = NopSender{}
	}
	if s.audit == nil {
		s.audit = nopRecorder{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration
func (s *Service) Config() Config {
	return s.cfg
}

// CodeResult is returned by RequestCode and RequestResetCode
type CodeResult struct {
	Resend bool      `json:"resend"`
	Expiry time.Time `json:"expiry"`
}

// Credentials is a freshly minted access token and session token pair
type Credentials struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	SessionToken     string
	SessionExpiresAt time.Time
}

// CookieDirective asks the HTTP layer to set a cookie
type CookieDirective struct {
	Name     string
	Value    string
	Path     string
	MaxAge   int
	HTTPOnly bool
	SameSite http.SameSite
	Secure   bool
}

// CookieClear asks the HTTP layer to expire a cookie
type CookieClear struct {
	Name string
	Path string
}

// Result of an operation that (re)issues or drops credentials
type Result struct {
	User         *models.User
	Role         models.UserRole
	Credentials  Credentials
	Cookies      []CookieDirective
	ClearCookies []CookieClear
}

// RequestCode issues a sign-in code for email
func (s *Service) RequestCode(ctx context.Context, email string) (*CodeResult, error) {
	ctx, span := s.startSpan(ctx, "auth.RequestCode", email)
	defer span.End()

	res, err := s.issueCode(ctx, email, models.PurposeVerification)
	return res, s.finish(span, err)
}

// RequestResetCode issues a credential-reset code for email
func (s *Service) RequestResetCode(ctx context.Context, email string) (*CodeResult, error) {
	ctx, span := s.startSpan(ctx, "auth.RequestResetCode", email)
	defer span.End()

	res, err := s.issueCode(ctx, email, models.PurposeResetKey)
	return res, s.finish(span, err)
}

// SignIn verifies a sign-in code, creating the user on first sign-in, and
// issues a session
func (s *Service) SignIn(ctx context.Context, email, code string) (*Result, error) {
	ctx, span := s.startSpan(ctx, "auth.SignIn", email)
	defer span.End()

	if err := s.verifyCode(ctx, email, code, models.PurposeVerification); err != nil {
		if errors.Is(err, services.ErrInvalidOrExpiredCode) {
			s.record(ctx, models.NewAuditLog(models.AuditActionSignInFailed, email))
		}
		return nil, s.finish(span, err)
	}

	user, err := s.findOrCreateUser(ctx, email)
	if err != nil {
		return nil, s.finish(span, err)
	}

	res, err := s.openSession(ctx, user)
	if err != nil {
		return nil, s.finish(span, err)
	}

	span.SetAttributes(attribute.String("auth.user_id", user.ID.String()))
	s.record(ctx, models.NewAuditLog(models.AuditActionSignIn, email).
		WithUser(user.ID).
		WithDetails(map[string]string{"role": string(user.Role)}))
	return res, s.finish(span, nil)
}

// Refresh rotates a session: the presented one is revoked and a new one
// issued. On ErrInvalidSession the returned Result carries only cookie
// clear directives.
func (s *Service) Refresh(ctx context.Context, sessionToken string) (*Result, error) {
	ctx, span := s.startSpan(ctx, "auth.Refresh", "")
	defer span.End()

	if sessionToken == "" {
		return nil, s.finish(span, services.ErrMissingSession)
	}

	session, err := s.sessions.FindByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return s.rejectSession(ctx, span, nil, "unknown")
		}
		return nil, s.finish(span, services.WrapInternal("find session", err))
	}

	now := s.now()
	switch {
	case session.Revoked:
		s.logger.Warn("revoked session presented",
			zap.String("session_id", session.ID.String()),
			zap.String("user_id", session.UserID.String()))
		return s.rejectSession(ctx, span, session, "revoked")
	case !session.IsUsable(now):
		return s.rejectSession(ctx, span, session, "expired")
	}

	if err := s.sessions.RevokeByID(ctx, session.ID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// lost a race against a concurrent rotation of the same token
			return s.rejectSession(ctx, span, session, "concurrent")
		}
		return nil, s.finish(span, services.WrapInternal("revoke session", err))
	}

	user := session.User
	if user == nil {
		user, err = s.users.GetByID(ctx, session.UserID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return s.rejectSession(ctx, span, session, "orphaned")
			}
			return nil, s.finish(span, services.WrapInternal("get user", err))
		}
	}

	res, err := s.openSession(ctx, user)
	if err != nil {
		return nil, s.finish(span, err)
	}

	span.SetAttributes(attribute.String("auth.user_id", user.ID.String()))
	s.record(ctx, models.NewAuditLog(models.AuditActionSessionRefreshed, user.Email).WithUser(user.ID))
	return res, s.finish(span, nil)
}

func (s *Service) rejectSession(ctx context.Context, span trace.Span, session *models.Session, reason string) (*Result, error) {
	entry := models.NewAuditLog(models.AuditActionSessionRejected, "").
		WithDetails(map[string]string{"reason": reason})
	if session != nil {
		entry.WithUser(session.UserID)
		if session.User != nil {
			entry.Email = session.User.Email
		}
	}
	s.record(ctx, entry)

	span.SetAttributes(attribute.String("auth.reject_reason", reason))
	return &Result{ClearCookies: s.clearDirectives()}, s.finish(span, services.ErrInvalidSession)
}

// ResetCredential verifies a reset code, rotates the user's key, revokes
// every session of the user and issues a single fresh one
func (s *Service) ResetCredential(ctx context.Context, email, code string) (*Result, error) {
	ctx, span := s.startSpan(ctx, "auth.ResetCredential", email)
	defer span.End()

	if err := s.verifyCode(ctx, email, code, models.PurposeResetKey); err != nil {
		return nil, s.finish(span, err)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, s.finish(span, services.ErrUserNotFound)
		}
		return nil, s.finish(span, services.WrapInternal("find user", err))
	}

	key, err := s.randomHex(userKeyBytes)
	if err != nil {
		return nil, s.finish(span, err)
	}
	if err := s.users.UpdateKey(ctx, user.ID, key); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, s.finish(span, services.ErrUserNotFound)
		}
		return nil, s.finish(span, services.WrapInternal("update key", err))
	}
	user.Key = key

	revoked, err := s.sessions.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return nil, s.finish(span, services.WrapInternal("revoke sessions", err))
	}

	res, err := s.openSession(ctx, user)
	if err != nil {
		return nil, s.finish(span, err)
	}

	span.SetAttributes(
		attribute.String("auth.user_id", user.ID.String()),
		attribute.Int64("auth.sessions_revoked", revoked))
	s.record(ctx, models.NewAuditLog(models.AuditActionKeyReset, email).
		WithUser(user.ID).
		WithDetails(map[string]int64{"sessions_revoked": revoked}))
	return res, s.finish(span, nil)
}

// SignOut revokes the presented session, if any, and always returns clear
// directives for both cookies
func (s *Service) SignOut(ctx context.Context, sessionToken string) (*Result, error) {
	ctx, span := s.startSpan(ctx, "auth.SignOut", "")
	defer span.End()

	res := &Result{ClearCookies: s.clearDirectives()}
	if sessionToken == "" {
		return res, s.finish(span, nil)
	}

	session, err := s.sessions.FindByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return res, s.finish(span, nil)
		}
		return res, s.finish(span, services.WrapInternal("find session", err))
	}

	if err := s.sessions.RevokeByID(ctx, session.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return res, s.finish(span, services.WrapInternal("revoke session", err))
	}

	entry := models.NewAuditLog(models.AuditActionSignedOut, "").WithUser(session.UserID)
	if session.User != nil {
		entry.Email = session.User.Email
	}
	s.record(ctx, entry)
	return res, s.finish(span, nil)
}

// PurgeExpiredCodes deletes codes that have expired
func (s *Service) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "auth.PurgeExpiredCodes")
	defer span.End()

	n, err := s.codes.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, s.finish(span, services.WrapInternal("delete expired codes", err))
	}
	span.SetAttributes(attribute.Int64("auth.codes_deleted", n))
	return n, s.finish(span, nil)
}

func (s *Service) findOrCreateUser(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.WrapInternal("find user", err)
	}

	key, err := s.randomHex(userKeyBytes)
	if err != nil {
		return nil, err
	}
	user = models.NewUser(email, key)
	user.CreatedAt = s.now().UTC()
	user.UpdatedAt = user.CreatedAt

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			// created concurrently by another sign-in for the same email
			existing, ferr := s.users.FindByEmail(ctx, email)
			if ferr != nil {
				return nil, services.WrapInternal("find user", ferr)
			}
			return existing, nil
		}
		return nil, services.WrapInternal("create user", err)
	}

	s.logger.Info("user created on first sign-in", zap.String("user_id", user.ID.String()))
	return user, nil
}

func (s *Service) startSpan(ctx context.Context, name, email string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	if email != "" {
		span.SetAttributes(attribute.String("auth.email_digest", repositories.HashToken(email)[:16]))
	}
	return ctx, span
}

// finish records err on span and returns it unchanged
func (s *Service) finish(span trace.Span, err error) error {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, services.GetErrorCode(err))
	if services.IsInternalError(err) {
		s.logger.Error("auth store failure", zap.Error(err))
	}
	return err
}

func (s *Service) record(ctx context.Context, entry *models.AuditLog) {
	entry.Timestamp = s.now().UTC()
	if meta, ok := shared.RequestMetaFrom(ctx); ok {
		entry.WithRequest(meta.RequestID, meta.ClientIP, meta.UserAgent)
	}
	s.audit.Record(ctx, entry)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *models.AuditLog) {}
