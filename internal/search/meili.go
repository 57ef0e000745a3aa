package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxQuestions = "interview_questions"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client    meili.ServiceManager
	log       *slog.Logger
	healthy   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewMeili creates a Meilisearch client and configures the index. The client is
// returned even when the first health check fails; the health loop recovers it.
func NewMeili(url, apiKey string, log *slog.Logger) *Meili {
	if log == nil {
		log = slog.Default()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxQuestions,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("create index (may already exist)", "index", idxQuestions, "error", err)
	}

	index := m.client.Index(idxQuestions)
	filterable := []interface{}{"difficulty", "companyId", "submissionId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", "index", idxQuestions, "error", err)
	}
	searchable := []string{"prompt", "expectedAnswer", "companyName", "interviewTitle"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", "index", idxQuestions, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxQuestions,
		Query:                 q.Text,
		Limit:                 int64(normalizeLimit(q.Limit)),
		Offset:                int64(q.Offset),
		AttributesToCrop:      []string{"prompt"},
		CropLength:            30,
	}
	if filters := buildFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func buildFilters(q Query) []string {
	var filters []string
	if q.Difficulty != "" {
		filters = append(filters, fmt.Sprintf("difficulty = %q", q.Difficulty))
	}
	if q.CompanyID != "" {
		filters = append(filters, fmt.Sprintf("companyId = %q", q.CompanyID))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:             decodeString(hit, "id"),
		SubmissionID:   decodeString(hit, "submissionId"),
		Prompt:         decodeString(hit, "prompt"),
		ExpectedAnswer: decodeString(hit, "expectedAnswer"),
		Difficulty:     decodeString(hit, "difficulty"),
		CompanyID:      decodeString(hit, "companyId"),
		CompanyName:    decodeString(hit, "companyName"),
		InterviewTitle: decodeString(hit, "interviewTitle"),
	}
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "prompt"), r.Prompt)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexQuestions adds or replaces questions in the index.
func (m *Meili) IndexQuestions(records []QuestionRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxQuestions).AddDocuments(records, nil)
	return err
}
