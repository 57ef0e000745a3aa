package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/rbac"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

var errLastAdmin = domainError(http.StatusConflict, "LAST_ADMIN", "At least one administrator must remain", nil)

func parseRole(name string) (rbac.Role, error) {
	role, ok := rbac.Parse(strings.ToUpper(strings.TrimSpace(name)))
	if !ok {
		return "", validationError("unknown role", map[string]any{"role": name})
	}
	return role, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("User not found")
		}
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) ListRoles(ctx context.Context) ([]map[string]any, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(roles))
	for _, role := range roles {
		items = append(items, map[string]any{"id": role.ID, "name": role.Name})
	}
	return items, nil
}

// AssignRole grants roleName to the user. Granting a held role is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleName string) (map[string]any, error) {
	role, err := parseRole(roleName)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("User not found")
		}
		return nil, err
	}
	if !user.HasRole(string(role)) {
		if err := s.store.AssignRole(ctx, userID, string(role)); err != nil {
			return nil, err
		}
		s.log.Info("role assigned", "user_id", userID, "role", role)
	}
	return s.GetUser(ctx, userID)
}

// RemoveRole revokes roleName. If it was the active role, the next remaining
// role in ADMIN, RESOURCE_MANAGER, RESOURCE order becomes active, or none.
func (s *Service) RemoveRole(ctx context.Context, actor Session, userID, roleName string) (map[string]any, error) {
	role, err := parseRole(roleName)
	if err != nil {
		return nil, err
	}
	if actor.UserID == userID && actor.Role == string(role) {
		return nil, domainError(http.StatusBadRequest, "ACTIVE_ROLE", "You cannot remove your own active role", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("User not found")
		}
		return nil, err
	}
	if !user.HasRole(string(role)) {
		return nil, notFound("Role is not assigned to this user")
	}
	if role == rbac.RoleAdmin {
		admins, err := s.store.CountUsersWithRole(ctx, store.RoleAdmin)
		if err != nil {
			return nil, err
		}
		if admins <= 1 {
			return nil, errLastAdmin
		}
	}

	var next *string
	if user.ActiveRole == string(role) {
		remaining := make([]string, 0, len(user.Roles))
		for _, held := range user.Roles {
			if held.Name != string(role) {
				remaining = append(remaining, held.Name)
			}
		}
		if candidate := rbac.NextActive(remaining); candidate != "" {
			name := string(candidate)
			next = &name
		}
	}

	updated, err := s.store.RemoveRole(ctx, userID, string(role), next)
	if err != nil {
		if errors.Is(err, store.ErrLastAdmin) {
			return nil, errLastAdmin
		}
		if isNotFound(err) {
			return nil, notFound("Role is not assigned to this user")
		}
		return nil, err
	}
	s.log.Info("role removed", "user_id", userID, "role", role, "active_role", updated.ActiveRole)
	return userPayload(updated), nil
}

func (s *Service) DeleteUser(ctx context.Context, actor Session, userID string) error {
	if actor.UserID == userID {
		return domainError(http.StatusBadRequest, "SELF_DELETE", "You cannot delete your own account", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return notFound("User not found")
		}
		return err
	}
	if user.HasRole(store.RoleAdmin) {
		admins, err := s.store.CountUsersWithRole(ctx, store.RoleAdmin)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return errLastAdmin
		}
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrLastAdmin):
			return errLastAdmin
		case errors.Is(err, store.ErrConflict):
			return domainError(http.StatusConflict, "USER_IN_USE", "User owns interviews or submissions and cannot be deleted", nil)
		case isNotFound(err):
			return notFound("User not found")
		}
		return err
	}
	s.log.Info("user deleted", "user_id", userID, "actor", actor.UserID)
	return nil
}

func (s *Service) ListCompanies(ctx context.Context) ([]map[string]any, error) {
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(companies))
	for _, company := range companies {
		items = append(items, companyPayload(company))
	}
	return items, nil
}

func (s *Service) CreateCompany(ctx context.Context, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}
	company, err := s.store.CreateCompany(ctx, store.Company{Name: name})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "COMPANY_EXISTS", "A company with this name already exists", nil)
		}
		return nil, err
	}
	return companyPayload(company), nil
}

func (s *Service) DeleteCompany(ctx context.Context, companyID string) error {
	if err := s.store.DeleteCompany(ctx, companyID); err != nil {
		switch {
		case isNotFound(err):
			return notFound("Company not found")
		case errors.Is(err, store.ErrConflict):
			return domainError(http.StatusConflict, "COMPANY_IN_USE", "Company has interviews and cannot be deleted", nil)
		}
		return err
	}
	return nil
}
