package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories"
	"github.com/aiclub/website-backend/services"
)

const maxSessionTokenAttempts = 3

// openSession mints an access token and a new session row for user
func (s *Service) openSession(ctx context.Context, user *models.User) (*Result, error) {
	access, accessExp, err := s.tokens.Issue(user.ID, s.cfg.AccessTTL)
	if err != nil {
		return nil, services.WrapInternal("issue access token", err)
	}

	now := s.now()
	var session *models.Session
	for attempt := 0; ; attempt++ {
		raw, err := s.randomHex(sessionTokenBytes)
		if err != nil {
			return nil, err
		}
		session = models.NewSession(raw, user.ID, now.Add(s.cfg.SessionTTL))
		session.CreatedAt = now.UTC()

		err = s.sessions.Create(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, repositories.ErrDuplicate) || attempt+1 >= maxSessionTokenAttempts {
			return nil, services.WrapInternal("create session", err)
		}
	}

	creds := Credentials{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		SessionToken:     session.Token,
		SessionExpiresAt: session.ExpiresAt,
	}
	return &Result{
		User:        user,
		Role:        user.Role,
		Credentials: creds,
		Cookies:     s.setDirectives(creds),
	}, nil
}

func (s *Service) setDirectives(creds Credentials) []CookieDirective {
	return []CookieDirective{
		s.cookie(s.cfg.AccessCookie, creds.AccessToken, int(s.cfg.AccessTTL.Seconds())),
		s.cookie(s.cfg.SessionCookie, creds.SessionToken, int(s.cfg.SessionTTL.Seconds())),
	}
}

func (s *Service) cookie(name, value string, maxAge int) CookieDirective {
	return CookieDirective{
		Name:     name,
		Value:    value,
		Path:     s.cfg.CookiePath,
		MaxAge:   maxAge,
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.CookieSecure,
	}
}

func (s *Service) clearDirectives() []CookieClear {
	return []CookieClear{
		{Name: s.cfg.AccessCookie, Path: s.cfg.CookiePath},
		{Name: s.cfg.SessionCookie, Path: s.cfg.CookiePath},
	}
}
