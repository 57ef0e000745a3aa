package app

import (
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func userPayload(user store.User) map[string]any {
	roles := make([]map[string]any, 0, len(user.Roles))
	for _, role := range user.Roles {
		roles = append(roles, map[string]any{"id": role.ID, "name": role.Name})
	}
	var activeRole any
	if user.ActiveRole != "" {
		activeRole = user.ActiveRole
	}
	return map[string]any{
		"id":           user.ID,
		"email":        user.Email,
		"name":         user.Name,
		"isActive":     user.IsActive,
		"activeRoleId": user.ActiveRoleID,
		"activeRole":   activeRole,
		"roles":        roles,
		"createdAt":    user.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func inviteStatus(invite store.Invite, now time.Time) string {
	switch {
	case invite.UsedAt != nil:
		return "USED"
	case !now.Before(invite.ExpiresAt):
		return "EXPIRED"
	default:
		return "PENDING"
	}
}

func invitePayload(invite store.Invite, now time.Time) map[string]any {
	return map[string]any{
		"id":        invite.ID,
		"userId":    invite.UserID,
		"email":     invite.UserEmail,
		"name":      invite.UserName,
		"invitedBy": invite.InvitedBy,
		"status":    inviteStatus(invite, now),
		"expiresAt": invite.ExpiresAt.UTC().Format(time.RFC3339),
		"usedAt":    timeValue(invite.UsedAt),
		"createdAt": invite.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func companyPayload(company store.Company) map[string]any {
	return map[string]any{
		"id":        company.ID,
		"name":      company.Name,
		"createdAt": company.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func interviewPayload(interview store.Interview) map[string]any {
	return map[string]any{
		"id":          interview.ID,
		"companyId":   interview.CompanyID,
		"companyName": interview.CompanyName,
		"title":       interview.Title,
		"managerId":   interview.ManagerID,
		"resourceId":  interview.ResourceID,
		"scheduledAt": timeValue(interview.ScheduledAt),
		"createdAt":   interview.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func submissionPayload(sub store.Submission) map[string]any {
	return map[string]any{
		"id":             sub.ID,
		"interviewId":    sub.InterviewID,
		"interviewTitle": sub.InterviewTitle,
		"companyId":      sub.CompanyID,
		"companyName":    sub.CompanyName,
		"title":          sub.Title,
		"status":         sub.Status,
		"latestVersion":  sub.LatestVersion,
		"dueAt":          timeValue(sub.DueAt),
		"manager":        map[string]any{"id": sub.ManagerID, "email": sub.ManagerEmail, "name": sub.ManagerName},
		"resource":       map[string]any{"id": sub.ResourceID, "email": sub.ResourceEmail, "name": sub.ResourceName},
		"createdAt":      sub.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":      sub.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func questionsPayload(questions []store.Question) []map[string]any {
	items := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		items = append(items, map[string]any{
			"id":             q.ID,
			"position":       q.Position,
			"prompt":         q.Prompt,
			"expectedAnswer": q.ExpectedAnswer,
			"difficulty":     q.Difficulty,
		})
	}
	return items
}

func reviewPayload(review store.Review) map[string]any {
	var reason any
	if review.Reason != "" {
		reason = review.Reason
	}
	return map[string]any{
		"id":         review.ID,
		"versionId":  review.VersionID,
		"reviewerId": review.ReviewerID,
		"decision":   review.Decision,
		"reason":     reason,
		"createdAt":  review.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func versionPayload(version store.SubmissionVersion) map[string]any {
	reviews := make([]map[string]any, 0, len(version.Reviews))
	for _, review := range version.Reviews {
		reviews = append(reviews, reviewPayload(review))
	}
	return map[string]any{
		"id":            version.ID,
		"versionNumber": version.VersionNumber,
		"status":        version.Status,
		"submittedBy":   version.SubmittedBy,
		"submittedAt":   version.SubmittedAt.UTC().Format(time.RFC3339),
		"questions":     questionsPayload(version.Questions),
		"reviews":       reviews,
	}
}
