package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const submissionSelect = `
	SELECT s.id, s.interview_id, s.manager_id, s.resource_id, s.title, s.status, s.due_at,
		s.latest_version, s.created_at, s.updated_at,
		i.title, c.id, c.name, m.email, m.name, r.email, r.name
	FROM submissions s
	JOIN interviews i ON i.id = s.interview_id
	JOIN companies c ON c.id = i.company_id
	JOIN users m ON m.id = s.manager_id
	JOIN users r ON r.id = s.resource_id
`

func scanSubmission(row rowScanner) (Submission, error) {
	var sub Submission
	var dueAt sql.NullTime
	if err := row.Scan(
		&sub.ID,
		&sub.InterviewID,
		&sub.ManagerID,
		&sub.ResourceID,
		&sub.Title,
		&sub.Status,
		&dueAt,
		&sub.LatestVersion,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&sub.InterviewTitle,
		&sub.CompanyID,
		&sub.CompanyName,
		&sub.ManagerEmail,
		&sub.ManagerName,
		&sub.ResourceEmail,
		&sub.ResourceName,
	); err != nil {
		return Submission{}, err
	}
	sub.DueAt = timePtr(dueAt)
	return sub, nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub Submission) (Submission, error) {
	sub.ID = newID(sub.ID)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, interview_id, manager_id, resource_id, title, status, due_at)
		VALUES ($1, $2, $3, $4, $5, 'DRAFT', $6)
	`, sub.ID, sub.InterviewID, sub.ManagerID, sub.ResourceID, sub.Title, nullTime(sub.DueAt)); err != nil {
		return Submission{}, classify(err, "create submission")
	}
	return s.GetSubmission(ctx, sub.ID)
}

func (s *PostgresStore) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, submissionSelect+" WHERE s.id = $1", submissionID))
	if err != nil {
		return Submission{}, classify(err, "get submission")
	}
	return sub, nil
}

func (s *PostgresStore) listSubmissions(ctx context.Context, column, userID string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, submissionSelect+" WHERE s."+column+" = $1 ORDER BY s.updated_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs := make([]Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) ListSubmissionsByManager(ctx context.Context, managerID string) ([]Submission, error) {
	return s.listSubmissions(ctx, "manager_id", managerID)
}

func (s *PostgresStore) ListSubmissionsByResource(ctx context.Context, resourceID string) ([]Submission, error) {
	return s.listSubmissions(ctx, "resource_id", resourceID)
}

func scanQuestions(rows *sql.Rows) ([]Question, error) {
	defer rows.Close()
	questions := make([]Question, 0)
	for rows.Next() {
		var q Question
		var versionID sql.NullString
		if err := rows.Scan(
			&q.ID,
			&q.SubmissionID,
			&versionID,
			&q.Position,
			&q.Prompt,
			&q.ExpectedAnswer,
			&q.Difficulty,
			&q.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.VersionID = stringPtr(versionID)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

const questionColumns = `id, submission_id, version_id, position, prompt, expected_answer, difficulty, created_at`

func (s *PostgresStore) ListDraftQuestions(ctx context.Context, submissionID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE submission_id=$1 AND version_id IS NULL
		ORDER BY position ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list draft questions: %w", err)
	}
	return scanQuestions(rows)
}

// ListVersions returns every version of a submission, oldest first, with its
// snapshot questions and reviews.
func (s *PostgresStore) ListVersions(ctx context.Context, submissionID string) ([]SubmissionVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, version_number, status, submitted_by, submitted_at
		FROM submission_versions
		WHERE submission_id=$1
		ORDER BY version_number ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	versions := make([]SubmissionVersion, 0)
	index := make(map[string]int)
	for rows.Next() {
		var v SubmissionVersion
		if err := rows.Scan(&v.ID, &v.SubmissionID, &v.VersionNumber, &v.Status, &v.SubmittedBy, &v.SubmittedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v.Questions = make([]Question, 0)
		v.Reviews = make([]Review, 0)
		index[v.ID] = len(versions)
		versions = append(versions, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return versions, nil
	}

	qRows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE submission_id=$1 AND version_id IS NOT NULL
		ORDER BY position ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list version questions: %w", err)
	}
	questions, err := scanQuestions(qRows)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		if i, ok := index[*q.VersionID]; ok {
			versions[i].Questions = append(versions[i].Questions, q)
		}
	}

	rRows, err := s.db.QueryContext(ctx, `
		SELECT rv.id, rv.version_id, rv.reviewer_id, rv.decision, rv.reason, rv.created_at
		FROM reviews rv
		JOIN submission_versions v ON v.id = rv.version_id
		WHERE v.submission_id=$1
		ORDER BY rv.created_at ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rRows.Close()
	for rRows.Next() {
		var review Review
		if err := rRows.Scan(&review.ID, &review.VersionID, &review.ReviewerID, &review.Decision, &review.Reason, &review.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		if i, ok := index[review.VersionID]; ok {
			versions[i].Reviews = append(versions[i].Reviews, review)
		}
	}
	return versions, rRows.Err()
}

func lockSubmission(ctx context.Context, tx *sql.Tx, submissionID string) (status string, latest int, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT status, latest_version FROM submissions WHERE id=$1 FOR UPDATE
	`, submissionID).Scan(&status, &latest)
	if err != nil {
		return "", 0, classify(err, "lock submission")
	}
	return status, latest, nil
}

func editable(status string) bool {
	return status == StatusDraft || status == StatusRejected
}

// ReplaceDraftQuestions swaps the working draft and returns the submission to DRAFT.
func (s *PostgresStore) ReplaceDraftQuestions(ctx context.Context, submissionID string, questions []Question) ([]Question, error) {
	saved := make([]Question, 0, len(questions))
	err := s.withTx(ctx, "replace draft", func(tx *sql.Tx) error {
		status, _, err := lockSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if !editable(status) {
			return ErrInvalidTransition
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE submission_id=$1 AND version_id IS NULL`, submissionID); err != nil {
			return fmt.Errorf("clear draft: %w", err)
		}
		for i, q := range questions {
			q.ID = uuid.NewString()
			q.SubmissionID = submissionID
			q.VersionID = nil
			q.Position = i + 1
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO questions (id, submission_id, position, prompt, expected_answer, difficulty)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING created_at
			`, q.ID, q.SubmissionID, q.Position, q.Prompt, q.ExpectedAnswer, q.Difficulty).Scan(&q.CreatedAt); err != nil {
				return classify(err, "insert draft question")
			}
			saved = append(saved, q)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE submissions SET status='DRAFT', updated_at=NOW() WHERE id=$1
		`, submissionID); err != nil {
			return fmt.Errorf("reset submission status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// SubmitSubmission snapshots the draft into version latest+1 and moves the
// submission to PENDING_REVIEW. Earlier versions are left untouched.
func (s *PostgresStore) SubmitSubmission(ctx context.Context, submissionID, submittedBy string) (SubmissionVersion, error) {
	var version SubmissionVersion
	err := s.withTx(ctx, "submit", func(tx *sql.Tx) error {
		status, latest, err := lockSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if !editable(status) {
			return ErrInvalidTransition
		}
		var drafts int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM questions WHERE submission_id=$1 AND version_id IS NULL
		`, submissionID).Scan(&drafts); err != nil {
			return fmt.Errorf("count draft questions: %w", err)
		}
		if drafts == 0 {
			return ErrNoQuestions
		}

		version = SubmissionVersion{
			ID:            uuid.NewString(),
			SubmissionID:  submissionID,
			VersionNumber: latest + 1,
			Status:        StatusPendingReview,
			SubmittedBy:   submittedBy,
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO submission_versions (id, submission_id, version_number, status, submitted_by)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING submitted_at
		`, version.ID, version.SubmissionID, version.VersionNumber, version.Status, version.SubmittedBy).Scan(&version.SubmittedAt); err != nil {
			return classify(err, "insert version")
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT position, prompt, expected_answer, difficulty
			FROM questions
			WHERE submission_id=$1 AND version_id IS NULL
			ORDER BY position ASC
		`, submissionID)
		if err != nil {
			return fmt.Errorf("read draft: %w", err)
		}
		snapshot := make([]Question, 0, drafts)
		for rows.Next() {
			q := Question{ID: uuid.NewString(), SubmissionID: submissionID, VersionID: &version.ID}
			if err := rows.Scan(&q.Position, &q.Prompt, &q.ExpectedAnswer, &q.Difficulty); err != nil {
				rows.Close()
				return fmt.Errorf("scan draft: %w", err)
			}
			snapshot = append(snapshot, q)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range snapshot {
			q := &snapshot[i]
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO questions (id, submission_id, version_id, position, prompt, expected_answer, difficulty)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING created_at
			`, q.ID, q.SubmissionID, version.ID, q.Position, q.Prompt, q.ExpectedAnswer, q.Difficulty).Scan(&q.CreatedAt); err != nil {
				return fmt.Errorf("snapshot question: %w", err)
			}
		}
		version.Questions = snapshot
		version.Reviews = []Review{}

		if _, err := tx.ExecContext(ctx, `
			UPDATE submissions SET status='PENDING_REVIEW', latest_version=$2, updated_at=NOW()
			WHERE id=$1
		`, submissionID, version.VersionNumber); err != nil {
			return fmt.Errorf("update submission: %w", err)
		}
		return nil
	})
	return version, err
}

// ReviewSubmission records an APPROVED or REJECTED decision against the latest
// pending version.
func (s *PostgresStore) ReviewSubmission(ctx context.Context, submissionID, reviewerID, decision, reason string) (SubmissionVersion, Review, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return SubmissionVersion{}, Review{}, fmt.Errorf("unknown decision %q", decision)
	}
	var version SubmissionVersion
	var review Review
	err := s.withTx(ctx, "review", func(tx *sql.Tx) error {
		status, latest, err := lockSubmission(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if status != StatusPendingReview {
			return ErrInvalidTransition
		}
		err = tx.QueryRowContext(ctx, `
			UPDATE submission_versions SET status=$3
			WHERE submission_id=$1 AND version_number=$2 AND status='PENDING_REVIEW'
			RETURNING id, submission_id, version_number, status, submitted_by, submitted_at
		`, submissionID, latest, decision).Scan(
			&version.ID, &version.SubmissionID, &version.VersionNumber, &version.Status, &version.SubmittedBy, &version.SubmittedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidTransition
		}
		if err != nil {
			return fmt.Errorf("update version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE submissions SET status=$2, updated_at=NOW() WHERE id=$1
		`, submissionID, decision); err != nil {
			return fmt.Errorf("update submission: %w", err)
		}
		review = Review{
			ID:         uuid.NewString(),
			VersionID:  version.ID,
			ReviewerID: reviewerID,
			Decision:   decision,
			Reason:     reason,
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO reviews (id, version_id, reviewer_id, decision, reason)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, review.ID, review.VersionID, review.ReviewerID, review.Decision, review.Reason).Scan(&review.CreatedAt); err != nil {
			return classify(err, "insert review")
		}
		qRows, err := tx.QueryContext(ctx, `
			SELECT `+questionColumns+` FROM questions WHERE version_id=$1 ORDER BY position ASC
		`, version.ID)
		if err != nil {
			return fmt.Errorf("load version questions: %w", err)
		}
		version.Questions, err = scanQuestions(qRows)
		if err != nil {
			return err
		}
		version.Reviews = []Review{review}
		return nil
	})
	if err != nil {
		return SubmissionVersion{}, Review{}, err
	}
	return version, review, nil
}

// ListApprovedQuestions returns the questions of one submission's approved
// versions in search-index form.
func (s *PostgresStore) ListApprovedQuestions(ctx context.Context, submissionID string) ([]ApprovedQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.submission_id, q.prompt, q.expected_answer, q.difficulty, c.id, c.name, i.title
		FROM questions q
		JOIN submission_versions v ON v.id = q.version_id
		JOIN submissions s ON s.id = q.submission_id
		JOIN interviews i ON i.id = s.interview_id
		JOIN companies c ON c.id = i.company_id
		WHERE q.submission_id = $1 AND v.status = 'APPROVED'
		ORDER BY v.version_number ASC, q.position ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list approved questions: %w", err)
	}
	defer rows.Close()

	out := make([]ApprovedQuestion, 0)
	for rows.Next() {
		var q ApprovedQuestion
		if err := rows.Scan(&q.ID, &q.SubmissionID, &q.Prompt, &q.ExpectedAnswer, &q.Difficulty, &q.CompanyID, &q.CompanyName, &q.InterviewTitle); err != nil {
			return nil, fmt.Errorf("scan approved question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
