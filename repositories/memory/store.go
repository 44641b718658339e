// Package memory provides in-process implementations of every store, used for
// local development (STORAGE_BACKEND=memory) and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/google/uuid"
)

// Store holds all rows behind a single mutex
type Store struct {
	mu       sync.Mutex
	codes    map[uuid.UUID]models.VerificationCode
	sessions map[uuid.UUID]storedSession
	byDigest map[string]uuid.UUID
	users    map[uuid.UUID]models.User
	byEmail  map[string]uuid.UUID
	audit    []models.AuditLog
}

type storedSession struct {
	session models.Session
	digest  string
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		codes:    make(map[uuid.UUID]models.VerificationCode),
		sessions: make(map[uuid.UUID]storedSession),
		byDigest: make(map[string]uuid.UUID),
		users:    make(map[uuid.UUID]models.User),
		byEmail:  make(map[string]uuid.UUID),
	}
}

// Repositories returns repository views over the store
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Codes:     (*CodeRepository)(s),
		Sessions:  (*SessionRepository)(s),
		Users:     (*UserRepository)(s),
		AuditLogs: (*AuditRepository)(s),
	}
}

// CodeRepository is the in-memory Code Store
type CodeRepository Store

// NewCodeRepository returns the Code Store view of s
func NewCodeRepository(s *Store) *CodeRepository { return (*CodeRepository)(s) }

func (r *CodeRepository) Create(ctx context.Context, code *models.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code.ID] = *code
	return nil
}

func (r *CodeRepository) FindActiveCode(ctx context.Context, email string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.VerificationCode
	for _, c := range r.codes {
		if c.Email != email || c.Purpose != purpose || c.Used {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = &c
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	return latest, nil
}

func (r *CodeRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[id]
	if !ok || c.Used {
		return repositories.ErrNotFound
	}
	c.Used = true
	r.codes[id] = c
	return nil
}

func (r *CodeRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[id]
	if !ok {
		return repositories.ErrNotFound
	}
	c.Attempts++
	r.codes[id] = c
	return nil
}

func (r *CodeRepository) InvalidateActive(ctx context.Context, email string, purpose models.CodePurpose, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0
	for id, c := range r.codes {
		if c.Email != email || c.Purpose != purpose || c.Used {
			continue
		}
		if !c.IsExpired(now) {
			live++
		}
		c.Used = true
		r.codes[id] = c
	}
	return live, nil
}

func (r *CodeRepository) DeleteByEmailAndPurpose(ctx context.Context, email string, purpose models.CodePurpose, onlyUsed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.codes {
		if c.Email == email && c.Purpose == purpose && (!onlyUsed || c.Used) {
			delete(r.codes, id)
		}
	}
	return nil
}

func (r *CodeRepository) Consume(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[id]
	if !ok || c.Used {
		return repositories.ErrNotFound
	}
	delete(r.codes, id)
	return nil
}

func (r *CodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, c := range r.codes {
		if c.Expiry.Before(before) {
			delete(r.codes, id)
			n++
		}
	}
	return n, nil
}

// Codes returns a snapshot of every stored code, for assertions in tests
func (r *CodeRepository) Codes() []models.VerificationCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.VerificationCode, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SessionRepository is the in-memory Session Store
type SessionRepository Store

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	digest := repositories.HashToken(session.Token)
	if _, ok := r.byDigest[digest]; ok {
		return repositories.ErrDuplicate
	}
	stored := *session
	stored.Token = ""
	stored.User = nil
	r.sessions[session.ID] = storedSession{session: stored, digest: digest}
	r.byDigest[digest] = session.ID
	return nil
}

func (r *SessionRepository) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byDigest[repositories.HashToken(token)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	stored := r.sessions[id]
	user, ok := r.users[stored.session.UserID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	session := stored.session
	session.User = &user
	return &session, nil
}

func (r *SessionRepository) RevokeByID(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[id]
	if !ok || stored.session.Revoked {
		return repositories.ErrNotFound
	}
	stored.session.Revoked = true
	r.sessions[id] = stored
	return nil
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, stored := range r.sessions {
		if stored.session.UserID == userID && !stored.session.Revoked {
			stored.session.Revoked = true
			r.sessions[id] = stored
			n++
		}
	}
	return n, nil
}

// UserRepository is the in-memory User Directory
type UserRepository Store

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[user.Email]; ok {
		return repositories.ErrDuplicate
	}
	r.users[user.ID] = *user
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	user := r.users[id]
	return &user, nil
}

func (r *UserRepository) UpdateKey(ctx context.Context, id uuid.UUID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	user.Key = key
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[user.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	current.Role = user.Role
	current.Name = user.Name
	current.Surname = user.Surname
	current.StudentNumber = user.StudentNumber
	current.UpdatedAt = time.Now().UTC()
	user.UpdatedAt = current.UpdatedAt
	r.users[user.ID] = current
	return nil
}

// AuditRepository is the in-memory audit trail
type AuditRepository Store

func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, *log)
	return nil
}

func (r *AuditRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	return r.list(func(*models.AuditLog) bool { return true }, limit, offset), nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	return r.list(func(l *models.AuditLog) bool {
		return l.UserID != nil && *l.UserID == userID
	}, limit, offset), nil
}

func (r *AuditRepository) list(keep func(*models.AuditLog) bool, limit, offset int) []*models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.AuditLog
	// newest first
	for i := len(r.audit) - 1; i >= 0; i-- {
		l := r.audit[i]
		if keep(&l) {
			matched = append(matched, &l)
		}
	}
	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}
