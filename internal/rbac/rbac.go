package rbac

type Role string
type Action string

const (
	RoleAdmin           Role = "ADMIN"
	RoleResourceManager Role = "RESOURCE_MANAGER"
	RoleResource        Role = "RESOURCE"
)

const (
	ActionManageUsers       Action = "manage_users"
	ActionManageCompanies   Action = "manage_companies"
	ActionRequestSubmission Action = "request_submission"
	ActionReviewSubmission  Action = "review_submission"
	ActionExportSubmission  Action = "export_submission"
	ActionAuthorSubmission  Action = "author_submission"
	ActionSearchQuestions   Action = "search_questions"
)

// Roles lists every role in reassignment order.
var Roles = []Role{RoleAdmin, RoleResourceManager, RoleResource}

// Can reports whether the active role may perform action. Roles do not inherit
// from each other; an admin acting as a resource manager must switch roles.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return action == ActionManageUsers || action == ActionManageCompanies
	case RoleResourceManager:
		return action == ActionRequestSubmission || action == ActionReviewSubmission ||
			action == ActionExportSubmission || action == ActionSearchQuestions
	case RoleResource:
		return action == ActionAuthorSubmission
	default:
		return false
	}
}

// Parse returns the role for name and whether it is known.
func Parse(name string) (Role, bool) {
	switch Role(name) {
	case RoleAdmin, RoleResourceManager, RoleResource:
		return Role(name), true
	default:
		return "", false
	}
}

// NextActive picks the role that replaces a removed active role from the
// remaining assignments, or "" when none remain.
func NextActive(remaining []string) Role {
	held := make(map[string]struct{}, len(remaining))
	for _, name := range remaining {
		held[name] = struct{}{}
	}
	for _, role := range Roles {
		if _, ok := held[string(role)]; ok {
			return role
		}
	}
	return ""
}
