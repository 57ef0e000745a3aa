package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/export"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

var errExportUnavailable = domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is unavailable on this server", nil)

// ExportSubmission renders the approved version of a submission to PDF.
func (s *Service) ExportSubmission(ctx context.Context, manager Session, submissionID string) (*export.Result, error) {
	sub, err := s.visibleSubmission(ctx, manager, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.StatusApproved {
		return nil, domainError(http.StatusBadRequest, "NOT_APPROVED", "Only approved submissions can be exported", map[string]any{"status": sub.Status})
	}
	if s.exporter == nil {
		return nil, errExportUnavailable
	}

	versions, err := s.store.ListVersions(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	var approved *store.SubmissionVersion
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status == store.StatusApproved {
			approved = &versions[i]
			break
		}
	}
	if approved == nil {
		return nil, domainError(http.StatusBadRequest, "NOT_APPROVED", "Submission has no approved version", nil)
	}

	doc := export.Document{
		SubmissionID:   sub.ID,
		Title:          sub.Title,
		CompanyName:    sub.CompanyName,
		InterviewTitle: sub.InterviewTitle,
		ResourceName:   firstNonEmpty(sub.ResourceName, sub.ResourceEmail),
		ManagerName:    firstNonEmpty(sub.ManagerName, sub.ManagerEmail),
		VersionNumber:  approved.VersionNumber,
		ApprovedAt:     approved.SubmittedAt,
		Questions:      make([]export.Question, 0, len(approved.Questions)),
	}
	for _, review := range approved.Reviews {
		if review.Decision == store.StatusApproved {
			doc.ApprovedAt = review.CreatedAt
		}
	}
	for _, q := range approved.Questions {
		doc.Questions = append(doc.Questions, export.Question{
			Position:       q.Position,
			Prompt:         q.Prompt,
			ExpectedAnswer: q.ExpectedAnswer,
			Difficulty:     q.Difficulty,
		})
	}

	result, err := s.exporter.ExportPDF(ctx, doc)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrPDFDependencyMissing):
			return nil, errExportUnavailable
		case errors.Is(err, export.ErrNoQuestions):
			return nil, domainError(http.StatusBadRequest, "NO_QUESTIONS", "Approved version has no questions", nil)
		}
		return nil, err
	}
	s.log.Info("submission exported", "submission_id", sub.ID, "version", doc.VersionNumber, "bytes", len(result.Data))
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
