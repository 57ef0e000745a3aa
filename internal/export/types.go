// Package export renders approved submissions to PDF.
package export

import (
	"errors"
	"time"
)

// Document is the approved version of a submission, flattened for rendering.
type Document struct {
	SubmissionID   string
	Title          string
	CompanyName    string
	InterviewTitle string
	ResourceName   string
	ManagerName    string
	VersionNumber  int
	ApprovedAt     time.Time
	Questions      []Question
}

type Question struct {
	Position       int
	Prompt         string
	ExpectedAnswer string
	Difficulty     string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates no headless Chrome binary is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrNoQuestions          = errors.New("export has no questions")
)
