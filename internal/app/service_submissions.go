package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/archive"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/email"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/notify"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/search"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

const maxQuestions = 100

var allowedDifficulty = map[string]struct{}{
	"EASY":   {},
	"MEDIUM": {},
	"HARD":   {},
}

var (
	errSubmissionNotFound = notFound("Submission not found")
	errInterviewNotFound  = notFound("Interview not found")
)

type CreateInterviewInput struct {
	CompanyID   string     `json:"companyId"`
	Title       string     `json:"title"`
	ResourceID  string     `json:"resourceId"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

type RequestSubmissionInput struct {
	InterviewID string     `json:"interviewId"`
	Title       string     `json:"title"`
	DueAt       *time.Time `json:"dueAt"`
}

type QuestionInput struct {
	Prompt         string `json:"prompt"`
	ExpectedAnswer string `json:"expectedAnswer"`
	Difficulty     string `json:"difficulty"`
}

func invalidStatus(status string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_STATUS",
		fmt.Sprintf("Action not allowed while submission is %s", status),
		map[string]any{"status": status})
}

// Interviews

func (s *Service) CreateInterview(ctx context.Context, manager Session, input CreateInterviewInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required", nil)
	}
	if _, err := s.store.GetCompany(ctx, strings.TrimSpace(input.CompanyID)); err != nil {
		if isNotFound(err) {
			return nil, validationError("companyId does not reference a company", nil)
		}
		return nil, err
	}
	resource, err := s.store.GetUserByID(ctx, strings.TrimSpace(input.ResourceID))
	if err != nil {
		if isNotFound(err) {
			return nil, validationError("resourceId does not reference a user", nil)
		}
		return nil, err
	}
	if !resource.HasRole(store.RoleResource) {
		return nil, validationError("resourceId must reference a user with the RESOURCE role", nil)
	}

	interview, err := s.store.CreateInterview(ctx, store.Interview{
		CompanyID:   strings.TrimSpace(input.CompanyID),
		Title:       title,
		ManagerID:   manager.UserID,
		ResourceID:  resource.ID,
		ScheduledAt: input.ScheduledAt,
	})
	if err != nil {
		return nil, err
	}
	return interviewPayload(interview), nil
}

func (s *Service) ListInterviews(ctx context.Context, manager Session) ([]map[string]any, error) {
	interviews, err := s.store.ListInterviewsByManager(ctx, manager.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(interviews))
	for _, interview := range interviews {
		items = append(items, interviewPayload(interview))
	}
	return items, nil
}

func (s *Service) ownedInterview(ctx context.Context, manager Session, interviewID string) (store.Interview, error) {
	interview, err := s.store.GetInterview(ctx, interviewID)
	if err != nil {
		if isNotFound(err) {
			return store.Interview{}, errInterviewNotFound
		}
		return store.Interview{}, err
	}
	if interview.ManagerID != manager.UserID {
		return store.Interview{}, errInterviewNotFound
	}
	return interview, nil
}

func (s *Service) GetInterview(ctx context.Context, manager Session, interviewID string) (map[string]any, error) {
	interview, err := s.ownedInterview(ctx, manager, interviewID)
	if err != nil {
		return nil, err
	}
	return interviewPayload(interview), nil
}

// Submissions

// RequestSubmission opens a DRAFT submission for the interview's resource.
func (s *Service) RequestSubmission(ctx context.Context, manager Session, input RequestSubmissionInput) (map[string]any, error) {
	interview, err := s.ownedInterview(ctx, manager, strings.TrimSpace(input.InterviewID))
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = interview.Title
	}
	sub, err := s.store.CreateSubmission(ctx, store.Submission{
		InterviewID: interview.ID,
		ManagerID:   manager.UserID,
		ResourceID:  interview.ResourceID,
		Title:       title,
		DueAt:       input.DueAt,
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notify.Message{
		Kind: email.KindSubmissionRequested,
		To:   sub.ResourceEmail,
		Data: s.submissionMailData(sub, sub.ResourceName, manager.Name, "/resource/submissions/"),
	})
	s.log.Info("submission requested", "submission_id", sub.ID, "resource_id", sub.ResourceID)
	return submissionPayload(sub), nil
}

func (s *Service) submissionMailData(sub store.Submission, recipient, actor, path string) email.Data {
	return email.Data{
		RecipientName:   recipient,
		ActorName:       actor,
		ActionURL:       strings.TrimRight(s.cfg.AppURL, "/") + path + sub.ID,
		SubmissionTitle: sub.Title,
		InterviewTitle:  sub.InterviewTitle,
		CompanyName:     sub.CompanyName,
		VersionNumber:   sub.LatestVersion,
	}
}

// ListSubmissions returns the submissions visible to the caller's active role.
func (s *Service) ListSubmissions(ctx context.Context, session Session) ([]map[string]any, error) {
	var (
		subs []store.Submission
		err  error
	)
	switch session.Role {
	case store.RoleResourceManager:
		subs, err = s.store.ListSubmissionsByManager(ctx, session.UserID)
	case store.RoleResource:
		subs, err = s.store.ListSubmissionsByResource(ctx, session.UserID)
	default:
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		items = append(items, submissionPayload(sub))
	}
	return items, nil
}

// visibleSubmission loads a submission the caller may see. Submissions owned by
// someone else are reported as not found.
func (s *Service) visibleSubmission(ctx context.Context, session Session, submissionID string) (store.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		if isNotFound(err) {
			return store.Submission{}, errSubmissionNotFound
		}
		return store.Submission{}, err
	}
	switch session.Role {
	case store.RoleResourceManager:
		if sub.ManagerID == session.UserID {
			return sub, nil
		}
	case store.RoleResource:
		if sub.ResourceID == session.UserID {
			return sub, nil
		}
	}
	return store.Submission{}, errSubmissionNotFound
}

// GetSubmission returns the submission with every version, its questions and reviews.
func (s *Service) GetSubmission(ctx context.Context, session Session, submissionID string) (map[string]any, error) {
	sub, err := s.visibleSubmission(ctx, session, submissionID)
	if err != nil {
		return nil, err
	}
	return s.submissionDetail(ctx, session, sub)
}

func (s *Service) submissionDetail(ctx context.Context, session Session, sub store.Submission) (map[string]any, error) {
	versions, err := s.store.ListVersions(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		items = append(items, versionPayload(version))
	}
	payload := submissionPayload(sub)
	payload["versions"] = items
	if session.Role == store.RoleResource {
		draft, err := s.store.ListDraftQuestions(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		payload["draftQuestions"] = questionsPayload(draft)
	}
	return payload, nil
}

func validateQuestions(inputs []QuestionInput) ([]store.Question, error) {
	if len(inputs) > maxQuestions {
		return nil, validationError(fmt.Sprintf("a submission can hold at most %d questions", maxQuestions), map[string]any{"max": maxQuestions})
	}
	questions := make([]store.Question, 0, len(inputs))
	for i, input := range inputs {
		prompt := strings.TrimSpace(input.Prompt)
		if prompt == "" {
			return nil, validationError("question prompt is required", map[string]any{"index": i})
		}
		difficulty := strings.ToUpper(strings.TrimSpace(input.Difficulty))
		if difficulty == "" {
			difficulty = "MEDIUM"
		}
		if _, ok := allowedDifficulty[difficulty]; !ok {
			return nil, validationError("difficulty must be EASY, MEDIUM or HARD", map[string]any{"index": i, "difficulty": input.Difficulty})
		}
		questions = append(questions, store.Question{
			Position:       i + 1,
			Prompt:         prompt,
			ExpectedAnswer: strings.TrimSpace(input.ExpectedAnswer),
			Difficulty:     difficulty,
		})
	}
	return questions, nil
}

func editable(status string) bool {
	return status == store.StatusDraft || status == store.StatusRejected
}

// SaveDraft replaces the working draft. Editing a rejected submission returns it to DRAFT.
func (s *Service) SaveDraft(ctx context.Context, resource Session, submissionID string, inputs []QuestionInput) (map[string]any, error) {
	sub, err := s.visibleSubmission(ctx, resource, submissionID)
	if err != nil {
		return nil, err
	}
	if !editable(sub.Status) {
		return nil, invalidStatus(sub.Status)
	}
	questions, err := validateQuestions(inputs)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.ReplaceDraftQuestions(ctx, sub.ID, questions)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, invalidStatus(sub.Status)
		}
		return nil, err
	}
	return map[string]any{
		"submissionId":   sub.ID,
		"status":         store.StatusDraft,
		"draftQuestions": questionsPayload(saved),
	}, nil
}

// Submit snapshots the draft into version latest+1 in PENDING_REVIEW.
func (s *Service) Submit(ctx context.Context, resource Session, submissionID string) (map[string]any, error) {
	sub, err := s.visibleSubmission(ctx, resource, submissionID)
	if err != nil {
		return nil, err
	}
	if !editable(sub.Status) {
		return nil, invalidStatus(sub.Status)
	}
	version, err := s.store.SubmitSubmission(ctx, sub.ID, resource.UserID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoQuestions):
			return nil, domainError(http.StatusBadRequest, "NO_QUESTIONS", "Add at least one question before submitting", nil)
		case errors.Is(err, store.ErrInvalidTransition):
			return nil, invalidStatus(sub.Status)
		}
		return nil, err
	}

	sub.Status = store.StatusPendingReview
	sub.LatestVersion = version.VersionNumber
	s.notify(ctx, notify.Message{
		Kind: email.KindSubmissionSubmitted,
		To:   sub.ManagerEmail,
		Data: s.submissionMailData(sub, sub.ManagerName, resource.Name, "/resource-manager/submissions/"),
	})
	s.archiveVersion(sub, version, resource.Name, nil)
	s.log.Info("submission submitted", "submission_id", sub.ID, "version", version.VersionNumber)
	return versionPayload(version), nil
}

func (s *Service) Approve(ctx context.Context, manager Session, submissionID string) (map[string]any, error) {
	return s.review(ctx, manager, submissionID, store.StatusApproved, "")
}

func (s *Service) Reject(ctx context.Context, manager Session, submissionID, reason string) (map[string]any, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domainError(http.StatusBadRequest, "REASON_REQUIRED", "A reason is required to reject a submission", nil)
	}
	return s.review(ctx, manager, submissionID, store.StatusRejected, reason)
}

func (s *Service) review(ctx context.Context, manager Session, submissionID, decision, reason string) (map[string]any, error) {
	sub, err := s.visibleSubmission(ctx, manager, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.StatusPendingReview {
		return nil, invalidStatus(sub.Status)
	}
	version, review, err := s.store.ReviewSubmission(ctx, sub.ID, manager.UserID, decision, reason)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, invalidStatus(sub.Status)
		}
		return nil, err
	}

	sub.Status = decision
	sub.LatestVersion = version.VersionNumber
	kind := email.KindSubmissionApproved
	if decision == store.StatusRejected {
		kind = email.KindSubmissionRejected
	}
	data := s.submissionMailData(sub, sub.ResourceName, manager.Name, "/resource/submissions/")
	data.Reason = reason
	s.notify(ctx, notify.Message{Kind: kind, To: sub.ResourceEmail, Data: data})
	s.archiveVersion(sub, version, manager.Name, &review)
	if decision == store.StatusApproved {
		s.indexApproved(sub.ID)
	}
	s.log.Info("submission reviewed", "submission_id", sub.ID, "version", version.VersionNumber, "decision", decision)

	payload := versionPayload(version)
	payload["review"] = reviewPayload(review)
	return payload, nil
}

func (s *Service) indexApproved(submissionID string) {
	if s.search == nil {
		return
	}
	s.background("index approved questions", func(ctx context.Context) error {
		approved, err := s.store.ListApprovedQuestions(ctx, submissionID)
		if err != nil {
			return err
		}
		records := make([]search.QuestionRecord, 0, len(approved))
		for _, q := range approved {
			records = append(records, search.QuestionRecord{
				ID:             q.ID,
				SubmissionID:   q.SubmissionID,
				Prompt:         q.Prompt,
				ExpectedAnswer: q.ExpectedAnswer,
				Difficulty:     q.Difficulty,
				CompanyID:      q.CompanyID,
				CompanyName:    q.CompanyName,
				InterviewTitle: q.InterviewTitle,
			})
		}
		s.search.IndexQuestions(records)
		return nil
	})
}

func (s *Service) archiveVersion(sub store.Submission, version store.SubmissionVersion, author string, review *store.Review) {
	if s.archive == nil {
		return
	}
	snap := archive.Snapshot{
		SubmissionID:  sub.ID,
		Title:         sub.Title,
		VersionNumber: version.VersionNumber,
		Status:        version.Status,
		SubmittedBy:   version.SubmittedBy,
		Questions:     make([]archive.Question, 0, len(version.Questions)),
	}
	for _, q := range version.Questions {
		snap.Questions = append(snap.Questions, archive.Question{
			Position:       q.Position,
			Prompt:         q.Prompt,
			ExpectedAnswer: q.ExpectedAnswer,
			Difficulty:     q.Difficulty,
		})
	}
	if review != nil {
		snap.Review = &archive.Decision{
			Decision:   review.Decision,
			Reason:     review.Reason,
			ReviewerID: review.ReviewerID,
			DecidedAt:  review.CreatedAt,
		}
	}
	s.background("archive submission version", func(context.Context) error {
		var err error
		if review != nil {
			_, err = s.archive.RecordReview(snap, author)
		} else {
			_, err = s.archive.RecordSubmitted(snap, author)
		}
		return err
	})
}

// SearchQuestions searches the approved question bank.
func (s *Service) SearchQuestions(ctx context.Context, q search.Query) (search.Response, error) {
	q.Difficulty = strings.ToUpper(strings.TrimSpace(q.Difficulty))
	if q.Difficulty != "" {
		if _, ok := allowedDifficulty[q.Difficulty]; !ok {
			return search.Response{}, validationError("difficulty must be EASY, MEDIUM or HARD", nil)
		}
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}
