package store

import "time"

type NotificationSettings struct {
	Email        bool `json:"email"`
	DailySummary bool `json:"dailySummary"`
	Push         bool `json:"push"`
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{Email: true, DailySummary: true, Push: false}
}

type User struct {
	ID                   string
	Username             string
	Email                string
	PasswordHash         string
	Role                 string
	DailyLimit           int
	Remaining            int
	NotificationSettings NotificationSettings
	InterestCategories   []string
	CreatedAt            time.Time
}

type Milestone struct {
	ID            string
	OwnerID       string
	OwnerName     string
	Name          string
	Description   string
	Progress      int
	TrackingCount int
	Version       int
	StartDate     time.Time
	EndDate       *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Tracking struct {
	MilestoneID    string
	TrackerID      string
	TrackerName    string
	CreatedAt      time.Time
	LastNotifiedAt *time.Time
}

// TrackedMilestone is a tracking row joined with its milestone, as seen by the tracker.
type TrackedMilestone struct {
	Milestone
	TrackedAt      time.Time
	LastNotifiedAt *time.Time
}

const (
	KindMilestoneCompleted = "milestone_completed"
	KindNewTracker         = "new_tracker"
	KindQueueUpdate        = "queue_update"
	KindSystem             = "system"
)

type Notification struct {
	ID                 string
	RecipientID        string
	Title              string
	Message            string
	Kind               string
	Read               bool
	RelatedMilestoneID string
	CreatedAt          time.Time
}

type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}
