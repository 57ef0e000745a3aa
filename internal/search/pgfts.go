package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const approvedFrom = `
	FROM questions q
	JOIN submission_versions v ON v.id = q.version_id
	JOIN submissions s ON s.id = q.submission_id
	JOIN interviews i ON i.id = s.interview_id
	JOIN companies c ON c.id = i.company_id
	WHERE v.status = 'APPROVED'`

// headlineOptions yields a plain-text fragment. Question text is user input,
// so snippets carry no markup.
const headlineOptions = `MaxFragments=1,MaxWords=30,MinWords=10,StartSel="",StopSel=""`

// buildQuery returns the WHERE tail, ORDER BY clause and args for q.
func buildQuery(q Query) (where string, order string, args []any) {
	var clauses []string
	order = "q.created_at DESC, q.position ASC"
	if text := strings.TrimSpace(q.Text); text != "" {
		args = append(args, text)
		clauses = append(clauses, "q.search_vector @@ plainto_tsquery('english', $1)")
		order = "ts_rank(q.search_vector, plainto_tsquery('english', $1)) DESC, q.created_at DESC"
	}
	if q.Difficulty != "" {
		args = append(args, q.Difficulty)
		clauses = append(clauses, fmt.Sprintf("q.difficulty = $%d", len(args)))
	}
	if q.CompanyID != "" {
		args = append(args, q.CompanyID)
		clauses = append(clauses, fmt.Sprintf("c.id = $%d", len(args)))
	}
	for _, clause := range clauses {
		where += " AND " + clause
	}
	return where, order, args
}

// Search runs plainto_tsquery over approved questions, with ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	where, order, args := buildQuery(q)
	limit := normalizeLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*)"+approvedFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	snippet := "q.prompt"
	if len(args) > 0 && strings.TrimSpace(q.Text) != "" {
		snippet = "ts_headline('english', q.prompt, plainto_tsquery('english', $1), '" + headlineOptions + "')"
	}
	dataSQL := fmt.Sprintf(`
		SELECT q.id, q.submission_id, q.prompt, q.expected_answer, q.difficulty,
			c.id, c.name, i.title, %s
		%s%s
		ORDER BY %s
		LIMIT %d OFFSET %d`, snippet, approvedFrom, where, order, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.SubmissionID, &r.Prompt, &r.ExpectedAnswer, &r.Difficulty,
			&r.CompanyID, &r.CompanyName, &r.InterviewTitle, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadApprovedQuestions returns every approved question for full reindexing.
func (p *PgFTS) LoadApprovedQuestions(ctx context.Context) ([]QuestionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT q.id, q.submission_id, q.prompt, q.expected_answer, q.difficulty, c.id, c.name, i.title
	`+approvedFrom)
	if err != nil {
		return nil, fmt.Errorf("load approved questions: %w", err)
	}
	defer rows.Close()

	records := make([]QuestionRecord, 0)
	for rows.Next() {
		var r QuestionRecord
		if err := rows.Scan(&r.ID, &r.SubmissionID, &r.Prompt, &r.ExpectedAnswer, &r.Difficulty, &r.CompanyID, &r.CompanyName, &r.InterviewTitle); err != nil {
			return nil, fmt.Errorf("scan approved question: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
