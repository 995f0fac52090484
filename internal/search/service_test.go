package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"

	"milestonetracker/api/internal/store"
)

type fakeFallback struct {
	milestones []store.Milestone
	err        error
	gotText    string
	gotLimit   int
}

func (f *fakeFallback) SearchMilestones(_ context.Context, text string, limit, offset int) ([]store.Milestone, int, error) {
	f.gotText = text
	f.gotLimit = limit
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.milestones, len(f.milestones), nil
}

func (f *fakeFallback) ListMilestones(context.Context) ([]store.Milestone, error) {
	return f.milestones, f.err
}

func TestSearchFallsBackToStoreWithoutMeili(t *testing.T) {
	fallback := &fakeFallback{milestones: []store.Milestone{
		{ID: "m1", Name: "System Design", Description: "Architecture review", OwnerID: "o1", OwnerName: "pm1user", Progress: 40},
	}}
	svc := NewService(nil, fallback, nil)

	resp := svc.Search(context.Background(), Query{Text: "design"})
	if fallback.gotText != "design" || fallback.gotLimit != 20 {
		t.Fatalf("unexpected fallback call text=%q limit=%d", fallback.gotText, fallback.gotLimit)
	}
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Query != "design" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	got := resp.Results[0]
	if got.ID != "m1" || got.Snippet != "Architecture review" || got.OwnerName != "pm1user" || got.Progress != 40 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestSearchReturnsEmptyOnFallbackError(t *testing.T) {
	svc := NewService(nil, &fakeFallback{err: errors.New("db down")}, nil)
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestHitToResultPrefersHighlightedFields(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"m1"`),
		"name":        json.RawMessage(`"System Design"`),
		"description": json.RawMessage(`"Architecture review"`),
		"ownerId":     json.RawMessage(`"o1"`),
		"ownerName":   json.RawMessage(`"pm1user"`),
		"progress":    json.RawMessage(`75`),
		"_formatted":  json.RawMessage(`{"name":"System <mark>Design</mark>","description":"  ","progress":"75"}`),
	}
	got := hitToResult(hit)
	if got.Name != "System <mark>Design</mark>" {
		t.Fatalf("expected highlighted name, got %q", got.Name)
	}
	if got.Snippet != "Architecture review" {
		t.Fatalf("expected raw description for blank highlight, got %q", got.Snippet)
	}
	if got.ID != "m1" || got.OwnerID != "o1" || got.OwnerName != "pm1user" || got.Progress != 75 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestIndexingIsSkippedWithoutMeili(t *testing.T) {
	svc := NewService(nil, &fakeFallback{}, nil)
	svc.IndexMilestone(store.Milestone{ID: "m1"})
	svc.ReindexAll(context.Background())
}
