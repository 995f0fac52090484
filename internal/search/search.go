package search

import "milestonetracker/api/internal/store"

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Snippet   string `json:"snippet"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
	Progress  int    `json:"progress"`
}

type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// MilestoneRecord is the data we index for a milestone.
type MilestoneRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"ownerId"`
	OwnerName   string `json:"ownerName"`
	Progress    int    `json:"progress"`
}

func RecordFromMilestone(m store.Milestone) MilestoneRecord {
	return MilestoneRecord{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		OwnerID:     m.OwnerID,
		OwnerName:   m.OwnerName,
		Progress:    m.Progress,
	}
}

func resultFromMilestone(m store.Milestone) Result {
	return Result{
		ID:        m.ID,
		Name:      m.Name,
		Snippet:   m.Description,
		OwnerID:   m.OwnerID,
		OwnerName: m.OwnerName,
		Progress:  m.Progress,
	}
}
