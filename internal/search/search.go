// Package search indexes approved interview questions and serves the question bank.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID             string `json:"id"`
	SubmissionID   string `json:"submissionId"`
	Prompt         string `json:"prompt"`
	ExpectedAnswer string `json:"expectedAnswer"`
	Difficulty     string `json:"difficulty"`
	CompanyID      string `json:"companyId"`
	CompanyName    string `json:"companyName"`
	InterviewTitle string `json:"interviewTitle"`
	Snippet        string `json:"snippet"`
}

// Query describes a search request. Empty Text lists every approved question.
type Query struct {
	Text       string
	Difficulty string
	CompanyID  string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// QuestionRecord is the data we index for an approved question.
type QuestionRecord struct {
	ID             string `json:"id"`
	SubmissionID   string `json:"submissionId"`
	Prompt         string `json:"prompt"`
	ExpectedAnswer string `json:"expectedAnswer"`
	Difficulty     string `json:"difficulty"`
	CompanyID      string `json:"companyId"`
	CompanyName    string `json:"companyName"`
	InterviewTitle string `json:"interviewTitle"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
