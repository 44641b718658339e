package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aiclub/website-backend/internal/shared"
	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/aiclub/website-backend/repositories/memory"
	"github.com/aiclub/website-backend/services"
	"github.com/aiclub/website-backend/services/token"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *captureSender) SendCode(ctx context.Context, email, code string, purpose models.CodePurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[string(purpose)+":"+email] = code
	return nil
}

func (s *captureSender) last(email string, purpose models.CodePurpose) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[string(purpose)+":"+email]
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *captureRecorder) Record(ctx context.Context, log *models.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, log)
}

func (r *captureRecorder) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	svc    *Service
	store  *memory.Store
	repos  *repositories.Repositories
	issuer *token.Issuer
	sender *captureSender
	audit  *captureRecorder
	clock  *fakeClock
	spans  *tracetest.SpanRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	issuer, err := token.NewIssuer(token.Config{
		Secret:    []byte("harness-secret-harness-secret-123"),
		AccessTTL: DefaultAccessTTL,
	}, token.WithClock(clock.Now))
	require.NoError(t, err)

	store := memory.NewStore()
	repos := store.Repositories()
	sender := &captureSender{}
	recorder := &captureRecorder{}
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	svc := NewService(Deps{
		Codes:    repos.Codes,
		Sessions: repos.Sessions,
		Users:    repos.Users,
		Tokens:   issuer,
		Sender:   sender,
		Audit:    recorder,
		Logger:   zap.NewNop(),
	}, Config{}, WithClock(clock.Now), WithTracer(tp.Tracer("test")))

	return &harness{
		svc:    svc,
		store:  store,
		repos:  repos,
		issuer: issuer,
		sender: sender,
		audit:  recorder,
		clock:  clock,
		spans:  spans,
	}
}

func (h *harness) requestCode(t *testing.T, email string) string {
	t.Helper()
	_, err := h.svc.RequestCode(context.Background(), email)
	require.NoError(t, err)
	code := h.sender.last(email, models.PurposeVerification)
	require.Len(t, code, 6)
	return code
}

func (h *harness) signIn(t *testing.T, email string) *Result {
	t.Helper()
	code := h.requestCode(t, email)
	res, err := h.svc.SignIn(context.Background(), email, code)
	require.NoError(t, err)
	return res
}

func (h *harness) unusedCodes(email string, purpose models.CodePurpose) []models.VerificationCode {
	var out []models.VerificationCode
	for _, c := range memory.NewCodeRepository(h.store).Codes() {
		if c.Email == email && c.Purpose == purpose && !c.Used {
			out = append(out, c)
		}
	}
	return out
}

func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestRequestCode_SingleActiveCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.RequestCode(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, first.Resend)
	assert.Equal(t, h.clock.Now().Add(DefaultCodeTTL), first.Expiry)
	firstCode := h.sender.last("a@x.com", models.PurposeVerification)

	second, err := h.svc.RequestCode(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, second.Resend)
	secondCode := h.sender.last("a@x.com", models.PurposeVerification)

	assert.Len(t, h.unusedCodes("a@x.com", models.PurposeVerification), 1)

	if firstCode != secondCode {
		_, err = h.svc.SignIn(ctx, "a@x.com", firstCode)
		assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)
	}
}

func TestRequestCode_ResendOnlyWhileLive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RequestCode(ctx, "a@x.com")
	require.NoError(t, err)

	h.clock.Advance(DefaultCodeTTL + time.Second)

	res, err := h.svc.RequestCode(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, res.Resend)
}

func TestRequestCode_DeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.sender.err = errors.New("smtp down")

	_, err := h.svc.RequestCode(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, services.ErrDeliveryFailed)
	assert.True(t, services.IsExternalError(err))
}

func TestSignIn_NewUserGetsStudentRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.signIn(t, "new@x.com")
	assert.Equal(t, models.RoleStudent, res.Role)

	user, err := h.repos.Users.FindByEmail(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.Len(t, user.Key, userKeyBytes*2)

	subject, err := h.issuer.Verify(res.Credentials.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	assert.Len(t, res.Credentials.SessionToken, sessionTokenBytes*2)
	assert.NotEqual(t, res.Credentials.AccessToken, res.Credentials.SessionToken)
	assert.Equal(t, h.clock.Now().Add(DefaultSessionTTL), res.Credentials.SessionExpiresAt)
	assert.Equal(t, h.clock.Now().Add(DefaultAccessTTL), res.Credentials.AccessExpiresAt)
	assert.Contains(t, h.audit.actions(), models.AuditActionSignIn)
}

func TestSignIn_CookieDirectives(t *testing.T) {
	h := newHarness(t)
	res := h.signIn(t, "a@x.com")

	require.Len(t, res.Cookies, 2)
	access, session := res.Cookies[0], res.Cookies[1]

	assert.Equal(t, DefaultAccessCookie, access.Name)
	assert.Equal(t, res.Credentials.AccessToken, access.Value)
	assert.Equal(t, 30*60, access.MaxAge)

	assert.Equal(t, DefaultSessionCookie, session.Name)
	assert.Equal(t, res.Credentials.SessionToken, session.Value)
	assert.Equal(t, 7*24*60*60, session.MaxAge)

	for _, c := range res.Cookies {
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.HTTPOnly)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	}
	assert.NotEqual(t, access.Value, session.Value)
	assert.Empty(t, res.ClearCookies)
}

func TestSignIn_ExistingUserKeepsRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	admin := models.NewUser("boss@x.com", "k")
	admin.Role = models.RoleAdmin
	require.NoError(t, h.repos.Users.Create(ctx, admin))

	res := h.signIn(t, "boss@x.com")
	assert.Equal(t, models.RoleAdmin, res.Role)
	assert.Equal(t, admin.ID, res.User.ID)
}

func TestSignIn_ReplayFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code := h.requestCode(t, "a@x.com")
	_, err := h.svc.SignIn(ctx, "a@x.com", code)
	require.NoError(t, err)

	_, err = h.svc.SignIn(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)
}

func TestSignIn_WrongThenRightFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code := h.requestCode(t, "a@x.com")

	_, err := h.svc.SignIn(ctx, "a@x.com", wrongCode(code))
	assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)

	_, err = h.svc.SignIn(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)

	stored := memory.NewCodeRepository(h.store).Codes()
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Used)
	assert.Equal(t, 1, stored[0].Attempts)
	assert.Contains(t, h.audit.actions(), models.AuditActionSignInFailed)
}

func TestSignIn_ExpiredCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code := h.requestCode(t, "a@x.com")
	h.clock.Advance(DefaultCodeTTL + time.Second)

	_, err := h.svc.SignIn(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)

	stored := memory.NewCodeRepository(h.store).Codes()
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Used)
	assert.Zero(t, stored[0].Attempts)

	_, err = h.repos.Users.FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSignIn_AtExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	code := h.requestCode(t, "a@x.com")
	h.clock.Advance(DefaultCodeTTL)

	_, err := h.svc.SignIn(context.Background(), "a@x.com", code)
	assert.NoError(t, err)
}

func TestSignIn_NoCode(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SignIn(context.Background(), "nobody@x.com", "123456")
	assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)
}

func TestSignIn_ResetCodeIsNotASignInCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RequestResetCode(ctx, "a@x.com")
	require.NoError(t, err)
	code := h.sender.last("a@x.com", models.PurposeResetKey)

	_, err = h.svc.SignIn(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)
	assert.Len(t, h.unusedCodes("a@x.com", models.PurposeResetKey), 1)
}

func TestSignIn_ConcurrentUseOfOneCode(t *testing.T) {
	h := newHarness(t)
	code := h.requestCode(t, "a@x.com")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.SignIn(context.Background(), "a@x.com", code)
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestRefresh_Rotates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.signIn(t, "a@x.com")
	h.clock.Advance(time.Minute)

	second, err := h.svc.Refresh(ctx, first.Credentials.SessionToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.Credentials.SessionToken, second.Credentials.SessionToken)
	assert.NotEqual(t, first.Credentials.AccessToken, second.Credentials.AccessToken)
	assert.Equal(t, models.RoleStudent, second.Role)
	require.Len(t, second.Cookies, 2)

	subject, err := h.issuer.Verify(second.Credentials.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, subject)

	// the rotated token is permanently dead even though it has not expired
	res, err := h.svc.Refresh(ctx, first.Credentials.SessionToken)
	assert.ErrorIs(t, err, services.ErrInvalidSession)
	require.NotNil(t, res)
	assert.Empty(t, res.Cookies)
	assert.Equal(t, []CookieClear{
		{Name: DefaultAccessCookie, Path: "/"},
		{Name: DefaultSessionCookie, Path: "/"},
	}, res.ClearCookies)

	_, err = h.svc.Refresh(ctx, second.Credentials.SessionToken)
	assert.NoError(t, err)

	old, err := h.repos.Sessions.FindByToken(ctx, first.Credentials.SessionToken)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
}

func TestRefresh_Missing(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, services.ErrMissingSession)
	assert.Nil(t, res)
}

func TestRefresh_Unknown(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Refresh(context.Background(), "not-a-session")
	assert.ErrorIs(t, err, services.ErrInvalidSession)
	require.NotNil(t, res)
	assert.Len(t, res.ClearCookies, 2)
}

func TestRefresh_Expired(t *testing.T) {
	h := newHarness(t)
	first := h.signIn(t, "a@x.com")

	h.clock.Advance(DefaultSessionTTL + time.Second)

	res, err := h.svc.Refresh(context.Background(), first.Credentials.SessionToken)
	assert.ErrorIs(t, err, services.ErrInvalidSession)
	require.NotNil(t, res)
	assert.Len(t, res.ClearCookies, 2)
	assert.Contains(t, h.audit.actions(), models.AuditActionSessionRejected)
}

func TestRefresh_ConcurrentRotation(t *testing.T) {
	h := newHarness(t)
	first := h.signIn(t, "a@x.com")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Refresh(context.Background(), first.Credentials.SessionToken)
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			assert.ErrorIs(t, err, services.ErrInvalidSession)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestResetCredential_RevokesEverySession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.signIn(t, "a@x.com")
	b := h.signIn(t, "a@x.com")
	before, err := h.repos.Users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)

	_, err = h.svc.RequestResetCode(ctx, "a@x.com")
	require.NoError(t, err)
	code := h.sender.last("a@x.com", models.PurposeResetKey)

	res, err := h.svc.ResetCredential(ctx, "a@x.com", code)
	require.NoError(t, err)
	require.Len(t, res.Cookies, 2)

	after, err := h.repos.Users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, before.Key, after.Key)

	for _, old := range []*Result{a, b} {
		_, err := h.svc.Refresh(ctx, old.Credentials.SessionToken)
		assert.ErrorIs(t, err, services.ErrInvalidSession)
	}

	_, err = h.svc.Refresh(ctx, res.Credentials.SessionToken)
	assert.NoError(t, err)

	_, err = h.svc.ResetCredential(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)
}

func TestResetCredential_UserNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RequestResetCode(ctx, "ghost@x.com")
	require.NoError(t, err)
	code := h.sender.last("ghost@x.com", models.PurposeResetKey)

	res, err := h.svc.ResetCredential(ctx, "ghost@x.com", code)
	assert.ErrorIs(t, err, services.ErrUserNotFound)
	assert.Nil(t, res)
}

func TestResetCredential_WrongCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t, "a@x.com")

	_, err := h.svc.RequestResetCode(ctx, "a@x.com")
	require.NoError(t, err)
	code := h.sender.last("a@x.com", models.PurposeResetKey)

	_, err = h.svc.ResetCredential(ctx, "a@x.com", wrongCode(code))
	assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.signIn(t, "a@x.com")

	res, err := h.svc.SignOut(ctx, first.Credentials.SessionToken)
	require.NoError(t, err)
	assert.Len(t, res.ClearCookies, 2)

	_, err = h.svc.Refresh(ctx, first.Credentials.SessionToken)
	assert.ErrorIs(t, err, services.ErrInvalidSession)

	// signing out twice, or without a session, is harmless
	res, err = h.svc.SignOut(ctx, first.Credentials.SessionToken)
	require.NoError(t, err)
	assert.Len(t, res.ClearCookies, 2)

	res, err = h.svc.SignOut(ctx, "")
	require.NoError(t, err)
	assert.Len(t, res.ClearCookies, 2)
}

func TestPurgeExpiredCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.requestCode(t, "a@x.com")
	h.requestCode(t, "b@x.com")
	h.clock.Advance(DefaultCodeTTL + time.Second)
	h.requestCode(t, "c@x.com")

	n, err := h.svc.PurgeExpiredCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, memory.NewCodeRepository(h.store).Codes(), 1)
}

func TestTracingAndAuditMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := shared.WithRequestMeta(context.Background(), shared.RequestMeta{
		RequestID: "req-42",
		ClientIP:  "10.1.2.3",
		UserAgent: "test-agent",
	})

	_, err := h.svc.SignIn(ctx, "a@x.com", "123456")
	require.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "auth.SignIn", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "invalid_or_expired_code", ended[0].Status().Description)

	h.audit.mu.Lock()
	defer h.audit.mu.Unlock()
	require.Len(t, h.audit.entries, 1)
	entry := h.audit.entries[0]
	assert.Equal(t, models.AuditActionSignInFailed, entry.Action)
	assert.Equal(t, "req-42", entry.RequestID)
	assert.Equal(t, "10.1.2.3", entry.IPAddress)
	assert.Equal(t, "test-agent", entry.UserAgent)
}

func TestStoreFailuresPropagate(t *testing.T) {
	boom := errors.New("connection refused")
	issuer, err := token.NewIssuer(token.Config{Secret: []byte("secret")})
	require.NoError(t, err)

	newSvc := func(codes *MockCodeRepository, sessions *MockSessionRepository, users *MockUserRepository) *Service {
		return NewService(Deps{
			Codes:    codes,
			Sessions: sessions,
			Users:    users,
			Tokens:   issuer,
			Logger:   zap.NewNop(),
		}, Config{})
	}

	t.Run("request code", func(t *testing.T) {
		codeRepo := new(MockCodeRepository)
		codeRepo.On("InvalidateActive", mock.Anything, "a@x.com", models.PurposeVerification, mock.Anything).Return(0, boom)

		_, err := newSvc(codeRepo, nil, nil).RequestCode(context.Background(), "a@x.com")
		assert.ErrorIs(t, err, services.ErrStoreUnavailable)
		assert.ErrorIs(t, err, boom)
		codeRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("sign in lookup", func(t *testing.T) {
		codeRepo := new(MockCodeRepository)
		sessionRepo := new(MockSessionRepository)
		codeRepo.On("FindActiveCode", mock.Anything, "a@x.com", models.PurposeVerification).Return(nil, boom)

		_, err := newSvc(codeRepo, sessionRepo, nil).SignIn(context.Background(), "a@x.com", "123456")
		assert.ErrorIs(t, err, services.ErrStoreUnavailable)
		sessionRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("mark used race is benign", func(t *testing.T) {
		codeRepo := new(MockCodeRepository)
		code := models.NewVerificationCode("a@x.com", hashCode("111111"), models.PurposeVerification, time.Now().Add(time.Minute))
		codeRepo.On("FindActiveCode", mock.Anything, "a@x.com", models.PurposeVerification).Return(code, nil)
		codeRepo.On("MarkUsed", mock.Anything, code.ID).Return(repositories.ErrNotFound)
		codeRepo.On("IncrementAttempts", mock.Anything, code.ID).Return(repositories.ErrNotFound)

		_, err := newSvc(codeRepo, nil, nil).SignIn(context.Background(), "a@x.com", "222222")
		assert.ErrorIs(t, err, services.ErrInvalidOrExpiredCode)
		codeRepo.AssertExpectations(t)
	})

	t.Run("session create failure issues nothing", func(t *testing.T) {
		codeRepo := new(MockCodeRepository)
		sessionRepo := new(MockSessionRepository)
		userRepo := new(MockUserRepository)
		code := models.NewVerificationCode("a@x.com", hashCode("111111"), models.PurposeVerification, time.Now().Add(time.Minute))
		user := models.NewUser("a@x.com", "k")

		codeRepo.On("FindActiveCode", mock.Anything, "a@x.com", models.PurposeVerification).Return(code, nil)
		codeRepo.On("Consume", mock.Anything, code.ID).Return(nil)
		userRepo.On("FindByEmail", mock.Anything, "a@x.com").Return(user, nil)
		sessionRepo.On("Create", mock.Anything, mock.Anything).Return(boom)

		res, err := newSvc(codeRepo, sessionRepo, userRepo).SignIn(context.Background(), "a@x.com", "111111")
		assert.ErrorIs(t, err, services.ErrStoreUnavailable)
		assert.Nil(t, res)
	})

	t.Run("refresh lookup failure keeps cookies", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		sessionRepo.On("FindByToken", mock.Anything, "tok").Return(nil, boom)

		res, err := newSvc(nil, sessionRepo, nil).Refresh(context.Background(), "tok")
		assert.ErrorIs(t, err, services.ErrStoreUnavailable)
		assert.Nil(t, res)
	})

	t.Run("concurrently created user is re-read", func(t *testing.T) {
		codeRepo := new(MockCodeRepository)
		sessionRepo := new(MockSessionRepository)
		userRepo := new(MockUserRepository)
		code := models.NewVerificationCode("a@x.com", hashCode("111111"), models.PurposeVerification, time.Now().Add(time.Minute))
		winner := models.NewUser("a@x.com", "k")
		winner.Role = models.RoleMember

		codeRepo.On("FindActiveCode", mock.Anything, "a@x.com", models.PurposeVerification).Return(code, nil)
		codeRepo.On("Consume", mock.Anything, code.ID).Return(nil)
		userRepo.On("FindByEmail", mock.Anything, "a@x.com").Return(nil, repositories.ErrNotFound).Once()
		userRepo.On("Create", mock.Anything, mock.Anything).Return(repositories.ErrDuplicate)
		userRepo.On("FindByEmail", mock.Anything, "a@x.com").Return(winner, nil).Once()
		sessionRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

		res, err := newSvc(codeRepo, sessionRepo, userRepo).SignIn(context.Background(), "a@x.com", "111111")
		require.NoError(t, err)
		assert.Equal(t, winner.ID, res.User.ID)
		assert.Equal(t, models.RoleMember, res.Role)
		userRepo.AssertExpectations(t)
	})

	t.Run("session token collision retries", func(t *testing.T) {
		codeRepo := new(MockCodeRepository)
		sessionRepo := new(MockSessionRepository)
		userRepo := new(MockUserRepository)
		code := models.NewVerificationCode("a@x.com", hashCode("111111"), models.PurposeVerification, time.Now().Add(time.Minute))

		codeRepo.On("FindActiveCode", mock.Anything, "a@x.com", models.PurposeVerification).Return(code, nil)
		codeRepo.On("Consume", mock.Anything, code.ID).Return(nil)
		userRepo.On("FindByEmail", mock.Anything, "a@x.com").Return(models.NewUser("a@x.com", "k"), nil)
		sessionRepo.On("Create", mock.Anything, mock.Anything).Return(repositories.ErrDuplicate).Once()
		sessionRepo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := newSvc(codeRepo, sessionRepo, userRepo).SignIn(context.Background(), "a@x.com", "111111")
		require.NoError(t, err)
		sessionRepo.AssertNumberOfCalls(t, "Create", 2)
	})

	t.Run("unknown user id on refresh", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		userRepo := new(MockUserRepository)
		session := models.NewSession("tok", uuid.New(), time.Now().Add(time.Hour))

		sessionRepo.On("FindByToken", mock.Anything, "tok").Return(session, nil)
		sessionRepo.On("RevokeByID", mock.Anything, session.ID).Return(nil)
		userRepo.On("GetByID", mock.Anything, session.UserID).Return(nil, repositories.ErrNotFound)

		res, err := newSvc(nil, sessionRepo, userRepo).Refresh(context.Background(), "tok")
		assert.ErrorIs(t, err, services.ErrInvalidSession)
		require.NotNil(t, res)
		assert.Len(t, res.ClearCookies, 2)
	})
}

func TestNewService_Defaults(t *testing.T) {
	svc := NewService(Deps{}, Config{})
	cfg := svc.Config()

	assert.Equal(t, DefaultAccessTTL, cfg.AccessTTL)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, DefaultCodeTTL, cfg.CodeTTL)
	assert.Equal(t, DefaultAccessCookie, cfg.AccessCookie)
	assert.Equal(t, DefaultSessionCookie, cfg.SessionCookie)
	assert.Equal(t, "/", cfg.CookiePath)
}

func TestGenerateCode_Format(t *testing.T) {
	svc := NewService(Deps{}, Config{})
	for i := 0; i < 200; i++ {
		code, err := svc.generateCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9]{6}$`, code)
	}
}
