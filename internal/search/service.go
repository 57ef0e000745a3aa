package search

import (
	"context"
	"log/slog"
	"sync"
)

type indexer interface {
	Searcher
	IndexQuestions(records []QuestionRecord) error
}

type loader interface {
	Searcher
	LoadApprovedQuestions(ctx context.Context) ([]QuestionRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili indexer
	pgfts loader
	log   *slog.Logger
	wg    sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log *slog.Logger) *Service {
	s := &Service{log: log}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Limit = normalizeLimit(q.Limit)
	if q.Offset < 0 {
		q.Offset = 0
	}
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", "error", err)
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexQuestions pushes approved questions to Meilisearch without blocking the caller.
func (s *Service) IndexQuestions(records []QuestionRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.meili.IndexQuestions(records); err != nil {
			s.log.Error("index approved questions failed", "count", len(records), "error", err)
		}
	}()
}

// ReindexAllFromPG reloads every approved question into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadApprovedQuestions(ctx)
	if err != nil {
		s.log.Error("search reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexQuestions(records); err != nil {
		s.log.Error("search reindex failed", "error", err)
		return
	}
	s.log.Info("search reindexed", "questions", len(records))
}

// Wait blocks until in-flight index calls finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
