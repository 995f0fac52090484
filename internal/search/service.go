package search

import (
	"context"

	"go.uber.org/zap"

	"milestonetracker/api/internal/store"
)

// Fallback is the SQL side of search, used whenever Meilisearch is absent or failing.
type Fallback interface {
	SearchMilestones(ctx context.Context, text string, limit, offset int) ([]store.Milestone, int, error)
	ListMilestones(ctx context.Context) ([]store.Milestone, error)
}

// Service tries Meilisearch first and falls back to a LIKE query on the store.
type Service struct {
	meili    *Meili
	fallback Fallback
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Fallback, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to sql", zap.Error(err))
	}

	milestones, total, err := s.fallback.SearchMilestones(ctx, q.Text, q.Limit, q.Offset)
	if err != nil {
		s.logger.Error("sql search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results := make([]Result, 0, len(milestones))
	for _, m := range milestones {
		results = append(results, resultFromMilestone(m))
	}
	return Response{Results: results, Total: total, Query: q.Text}
}

// IndexMilestone pushes a milestone to Meilisearch without waiting for it.
func (s *Service) IndexMilestone(m store.Milestone) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromMilestone(m)
	go func() {
		if err := s.meili.IndexMilestone(record); err != nil {
			s.logger.Warn("index milestone", zap.String("milestone_id", record.ID), zap.Error(err))
		}
	}()
}

// ReindexAll loads every milestone from the store and pushes it to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	milestones, err := s.fallback.ListMilestones(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	records := make([]MilestoneRecord, 0, len(milestones))
	for _, m := range milestones {
		records = append(records, RecordFromMilestone(m))
	}
	if err := s.meili.IndexMilestones(records); err != nil {
		s.logger.Warn("reindex milestones", zap.Error(err))
		return
	}
	s.logger.Info("search index rebuilt", zap.Int("milestones", len(records)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
