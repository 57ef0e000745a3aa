package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/auth"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/email"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/notify"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/rbac"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

var (
	errInviteNotFound = domainError(http.StatusNotFound, "INVITE_NOT_FOUND", "Invite not found", nil)
	errInviteUsed     = domainError(http.StatusConflict, "INVITE_USED", "Invite has already been used", nil)
	errInviteExpired  = domainError(http.StatusGone, "INVITE_EXPIRED", "Invite has expired", nil)
)

type SendInviteInput struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func (s *Service) inviteLink(token string) string {
	return strings.TrimRight(s.cfg.AppURL, "/") + "/accept-invite?token=" + url.QueryEscape(token)
}

func inviteRoles(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, validationError("at least one role is required", nil)
	}
	seen := make(map[rbac.Role]struct{}, len(names))
	roles := make([]string, 0, len(names))
	for _, name := range names {
		role, err := parseRole(name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, string(role))
	}
	return roles, nil
}

// SendInvite creates a pending user with the given roles and emails an invite link.
func (s *Service) SendInvite(ctx context.Context, actor Session, input SendInviteInput) (map[string]any, error) {
	address := normalizeEmail(input.Email)
	if address == "" || !strings.Contains(address, "@") {
		return nil, validationError("a valid email is required", nil)
	}
	roles, err := inviteRoles(input.Roles)
	if err != nil {
		return nil, err
	}

	token, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	invitedBy := actor.UserID
	user, invite, err := s.store.CreateInvitedUser(ctx, store.User{
		Email: address,
		Name:  strings.TrimSpace(input.Name),
	}, roles, store.Invite{
		TokenHash: auth.HashToken(token),
		InvitedBy: &invitedBy,
		ExpiresAt: s.now().Add(s.cfg.InviteTTL),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return nil, err
	}

	link := s.inviteLink(token)
	s.notify(ctx, notify.Message{
		Kind: email.KindInvite,
		To:   user.Email,
		Data: email.Data{
			RecipientName: user.Name,
			ActorName:     actor.Name,
			ActionURL:     link,
			ExpiresAt:     invite.ExpiresAt.UTC().Format("Jan 2, 2006 15:04 MST"),
		},
	})
	s.log.Info("invite sent", "invite_id", invite.ID, "email", user.Email, "roles", roles)

	response := map[string]any{
		"invite": invitePayload(invite, s.now()),
		"user":   userPayload(user),
	}
	if !s.emailConfigured() {
		response["devInviteLink"] = link
	}
	return response, nil
}

// lookupInvite resolves a raw token, checking unknown, used and expired in that order.
func (s *Service) lookupInvite(ctx context.Context, token string) (store.Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.Invite{}, errInviteNotFound
	}
	invite, err := s.store.GetInviteByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if isNotFound(err) {
			return store.Invite{}, errInviteNotFound
		}
		return store.Invite{}, err
	}
	if invite.UsedAt != nil {
		return store.Invite{}, errInviteUsed
	}
	if !s.now().Before(invite.ExpiresAt) {
		return store.Invite{}, errInviteExpired
	}
	return invite, nil
}

// GetInvite validates a token for the accept page.
func (s *Service) GetInvite(ctx context.Context, token string) (map[string]any, error) {
	invite, err := s.lookupInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"email":     invite.UserEmail,
		"name":      invite.UserName,
		"expiresAt": invite.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// AcceptInvite sets the password, activates the user and consumes the invite.
func (s *Service) AcceptInvite(ctx context.Context, token, password string) (map[string]any, error) {
	invite, err := s.lookupInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, passwordError(err)
	}
	user, err := s.store.AcceptInvite(ctx, invite.ID, hash, s.now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with another accept or the expiry passed in between.
			if _, recheck := s.lookupInvite(ctx, token); recheck != nil {
				return nil, recheck
			}
			return nil, errInviteUsed
		}
		return nil, err
	}
	s.log.Info("invite accepted", "invite_id", invite.ID, "user_id", user.ID)
	return userPayload(user), nil
}

func (s *Service) ListInvites(ctx context.Context) ([]map[string]any, error) {
	invites, err := s.store.ListInvites(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	items := make([]map[string]any, 0, len(invites))
	for _, invite := range invites {
		items = append(items, invitePayload(invite, now))
	}
	return items, nil
}

func (s *Service) pendingInvite(ctx context.Context, inviteID string) (store.Invite, error) {
	invite, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		if isNotFound(err) {
			return store.Invite{}, errInviteNotFound
		}
		return store.Invite{}, err
	}
	if invite.UsedAt != nil {
		return store.Invite{}, errInviteUsed
	}
	return invite, nil
}

// CancelInvite deletes an unused invite together with its pending user.
func (s *Service) CancelInvite(ctx context.Context, inviteID string) error {
	invite, err := s.pendingInvite(ctx, inviteID)
	if err != nil {
		return err
	}
	if err := s.store.CancelInvite(ctx, invite.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return errInviteUsed
		}
		return err
	}
	s.log.Info("invite cancelled", "invite_id", invite.ID, "email", invite.UserEmail)
	return nil
}

// RemindInvite issues a fresh token with a new expiry and re-sends the email.
// Only the token hash is stored, so the old link stops working.
func (s *Service) RemindInvite(ctx context.Context, actor Session, inviteID string) (map[string]any, error) {
	invite, err := s.pendingInvite(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	token, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	rotated, err := s.store.RotateInvite(ctx, invite.ID, auth.HashToken(token), s.now().Add(s.cfg.InviteTTL))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errInviteUsed
		}
		return nil, err
	}

	link := s.inviteLink(token)
	s.notify(ctx, notify.Message{
		Kind: email.KindInviteReminder,
		To:   rotated.UserEmail,
		Data: email.Data{
			RecipientName: rotated.UserName,
			ActorName:     actor.Name,
			ActionURL:     link,
			ExpiresAt:     rotated.ExpiresAt.UTC().Format("Jan 2, 2006 15:04 MST"),
		},
	})

	response := map[string]any{"invite": invitePayload(rotated, s.now())}
	if !s.emailConfigured() {
		response["devInviteLink"] = link
	}
	return response, nil
}
