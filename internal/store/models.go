package store

import (
	"errors"
	"time"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("store: not found")

var (
	// ErrConflict reports a uniqueness, foreign key or conditional write conflict.
	ErrConflict = errors.New("store: conflict")
	// ErrInvalidTransition reports a submission that is not in a state allowing the change.
	ErrInvalidTransition = errors.New("store: invalid status transition")
	ErrNoQuestions       = errors.New("store: no draft questions")
	ErrLastAdmin         = errors.New("store: last admin")
)

const (
	RoleAdmin           = "ADMIN"
	RoleResourceManager = "RESOURCE_MANAGER"
	RoleResource        = "RESOURCE"
)

// RoleOrder is the stable order used when a user's active role has to be reassigned.
var RoleOrder = []string{RoleAdmin, RoleResourceManager, RoleResource}

const (
	StatusDraft         = "DRAFT"
	StatusPendingReview = "PENDING_REVIEW"
	StatusApproved      = "APPROVED"
	StatusRejected      = "REJECTED"
)

type Role struct {
	ID   string
	Name string
}

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	ActiveRoleID *string
	ActiveRole   string
	Roles        []Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether the user is assigned the named role.
func (u User) HasRole(name string) bool {
	for _, role := range u.Roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

type Invite struct {
	ID        string
	UserID    string
	TokenHash string
	InvitedBy *string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

type Company struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Interview struct {
	ID          string
	CompanyID   string
	CompanyName string
	Title       string
	ManagerID   string
	ResourceID  string
	ScheduledAt *time.Time
	CreatedAt   time.Time
}

type Submission struct {
	ID            string
	InterviewID   string
	ManagerID     string
	ResourceID    string
	Title         string
	Status        string
	DueAt         *time.Time
	LatestVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Joined fields
	InterviewTitle string
	CompanyID      string
	CompanyName    string
	ManagerEmail   string
	ManagerName    string
	ResourceEmail  string
	ResourceName   string
}

type SubmissionVersion struct {
	ID            string
	SubmissionID  string
	VersionNumber int
	Status        string
	SubmittedBy   string
	SubmittedAt   time.Time
	Questions     []Question
	Reviews       []Review
}

type Question struct {
	ID             string
	SubmissionID   string
	VersionID      *string
	Position       int
	Prompt         string
	ExpectedAnswer string
	Difficulty     string
	CreatedAt      time.Time
}

type Review struct {
	ID         string
	VersionID  string
	ReviewerID string
	Decision   string
	Reason     string
	CreatedAt  time.Time
}

// ApprovedQuestion is the search-index view of a question from an approved version.
type ApprovedQuestion struct {
	ID             string
	SubmissionID   string
	Prompt         string
	ExpectedAnswer string
	Difficulty     string
	CompanyID      string
	CompanyName    string
	InterviewTitle string
}
