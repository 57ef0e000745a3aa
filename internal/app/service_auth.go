package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/auth"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/authpw"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/rbac"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

// Session is the authenticated caller. Role is the active role as currently
// stored, which may differ from the role the access token was issued with.
type Session struct {
	UserID    string
	Email     string
	Name      string
	Role      string
	JTI       string
	ExpiresAt time.Time
	User      store.User
}

// Tokens is a freshly issued access/refresh pair.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkLoginRate counts the attempt against the client+email window and
// against a wider email-only window shared by every client address.
func (s *Service) checkLoginRate(ctx context.Context, clientIP, email string) error {
	limit := s.cfg.LoginRateLimit
	if limit <= 0 {
		limit = 10
	}
	emailLimit := s.cfg.LoginEmailRateLimit
	if emailLimit <= 0 {
		emailLimit = 50
	}

	decision := s.limiter.Allow(ctx, fmt.Sprintf("login:%s:%s", clientIP, email), limit, time.Minute)
	if decision.Allowed {
		decision = s.limiter.Allow(ctx, "login:email:"+email, emailLimit, 15*time.Minute)
	}
	if decision.Allowed {
		return nil
	}
	retry := decision.RetryAfter(s.now())
	return domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many login attempts, try again later", map[string]any{
		"retryAfterSeconds": int(retry.Round(time.Second).Seconds()),
	})
}

var errInvalidCredentials = domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)

// Login checks the credentials of an active user and issues a token pair.
// Attempts are rate limited per client address and email, and per email.
func (s *Service) Login(ctx context.Context, email, password, clientIP string) (Tokens, store.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Tokens{}, store.User{}, validationError("email and password are required", nil)
	}

	if err := s.checkLoginRate(ctx, clientIP, email); err != nil {
		return Tokens{}, store.User{}, err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return Tokens{}, store.User{}, errInvalidCredentials
		}
		return Tokens{}, store.User{}, err
	}
	if !user.IsActive {
		return Tokens{}, store.User{}, errInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return Tokens{}, store.User{}, errInvalidCredentials
	}

	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return Tokens{}, store.User{}, err
	}
	s.log.Info("user logged in", "user_id", user.ID, "role", user.ActiveRole)
	return tokens, user, nil
}

func (s *Service) issueTokens(ctx context.Context, user store.User) (Tokens, error) {
	access, claims, err := auth.IssueAccessToken([]byte(s.cfg.JWTSecret), user.ID, user.Email, user.ActiveRole, s.cfg.AccessTTL)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := auth.NewOpaqueToken()
	if err != nil {
		return Tokens{}, err
	}
	refreshExpires := s.now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpires,
	}, nil
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, store.User, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Tokens{}, store.User{}, errUnauthorized
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.ConsumeRefreshSession(ctx, tokenHash)
	if err != nil {
		if isNotFound(err) {
			return Tokens{}, store.User{}, errUnauthorized
		}
		return Tokens{}, store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return Tokens{}, store.User{}, errUnauthorized
		}
		return Tokens{}, store.User{}, err
	}
	if !user.IsActive {
		return Tokens{}, store.User{}, errUnauthorized
	}
	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return Tokens{}, store.User{}, err
	}
	return tokens, user, nil
}

// SessionFromToken validates an access token and loads the caller's current state.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if isNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.ActiveRole,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      user,
	}, nil
}

// Logout revokes the access token and the refresh session. Failures are logged only.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log.Warn("revoke access token failed", "user_id", session.UserID, "error", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn("revoke refresh session failed", "user_id", session.UserID, "error", err)
		}
	}
	return nil
}

// SwitchActiveRole changes the caller's active role and reissues tokens for it.
func (s *Service) SwitchActiveRole(ctx context.Context, session Session, roleName, refreshToken string) (Tokens, store.User, error) {
	role, ok := rbac.Parse(strings.ToUpper(strings.TrimSpace(roleName)))
	if !ok {
		return Tokens{}, store.User{}, validationError("unknown role", map[string]any{"role": roleName})
	}
	if !session.User.HasRole(string(role)) {
		return Tokens{}, store.User{}, domainError(http.StatusForbidden, "ROLE_NOT_ASSIGNED", "Role is not assigned to this user", nil)
	}
	if err := s.store.SetActiveRole(ctx, session.UserID, string(role)); err != nil {
		if isNotFound(err) {
			return Tokens{}, store.User{}, domainError(http.StatusForbidden, "ROLE_NOT_ASSIGNED", "Role is not assigned to this user", nil)
		}
		return Tokens{}, store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return Tokens{}, store.User{}, err
	}

	_ = s.Logout(ctx, session, refreshToken)
	tokens, err := s.issueTokens(ctx, user)
	if err != nil {
		return Tokens{}, store.User{}, err
	}
	return tokens, user, nil
}

// Me returns the caller with roles and active role.
func (s *Service) Me(session Session) map[string]any {
	return userPayload(session.User)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	parsed, ok := rbac.Parse(role)
	return ok && rbac.Can(parsed, action)
}

func passwordError(err error) error {
	if errors.Is(err, authpw.ErrPasswordTooShort) {
		return domainError(http.StatusBadRequest, "WEAK_PASSWORD", err.Error(), map[string]any{"minLength": authpw.MinPasswordLength})
	}
	return err
}
