package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Service renders approved submissions to PDF and archives the result.
type Service struct {
	renderer Renderer
	archiver Archiver
	log      *slog.Logger
}

// NewService creates a new export service; archiver may be nil.
func NewService(renderer Renderer, archiver Archiver, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{renderer: renderer, archiver: archiver, log: log}
}

// ExportPDF produces "<title>-v<n>.pdf" for doc.
func (s *Service) ExportPDF(ctx context.Context, doc Document) (*Result, error) {
	if len(doc.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	html, err := RenderHTML(doc)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	data, err := s.renderer.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Data:     data,
		Filename: fmt.Sprintf("%s-v%d.pdf", sanitizeFilename(doc.Title), doc.VersionNumber),
		MimeType: "application/pdf",
	}

	if s.archiver != nil {
		key := ArchiveKey(doc.SubmissionID, doc.VersionNumber)
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := s.archiver.Archive(archiveCtx, key, data, result.MimeType); err != nil {
			s.log.Error("export archive failed", "key", key, "error", err)
		}
	}
	return result, nil
}
