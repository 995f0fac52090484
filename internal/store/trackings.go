package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (q *Queries) TrackingExists(ctx context.Context, milestoneID, trackerID string) (bool, error) {
	var count int
	err := q.queryRow(ctx, `
		SELECT COUNT(*) FROM trackings WHERE milestone_id = $1 AND tracker_id = $2
	`, milestoneID, trackerID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check tracking: %w", err)
	}
	return count > 0, nil
}

// CreateTracking inserts the (milestone, tracker) pair. The primary key is the
// final word on uniqueness: a duplicate returns ErrConflict whatever the caller checked before.
func (q *Queries) CreateTracking(ctx context.Context, milestoneID, trackerID string, at time.Time) error {
	_, err := q.exec(ctx, `
		INSERT INTO trackings (milestone_id, tracker_id, created_at)
		VALUES ($1, $2, $3)
	`, milestoneID, trackerID, at)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert tracking: %w", err)
	}
	return nil
}

func (q *Queries) CountByMilestone(ctx context.Context, milestoneID string) (int, error) {
	var count int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM trackings WHERE milestone_id = $1`, milestoneID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count trackings: %w", err)
	}
	return count, nil
}

func (q *Queries) ListTrackingsByMilestone(ctx context.Context, milestoneID string) ([]Tracking, error) {
	rows, err := q.query(ctx, `
		SELECT t.milestone_id, t.tracker_id, u.username, t.created_at, t.last_notified_at
		FROM trackings t
		JOIN users u ON u.id = t.tracker_id
		WHERE t.milestone_id = $1
		ORDER BY t.created_at, t.tracker_id
	`, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("list trackings: %w", err)
	}
	defer rows.Close()

	items := []Tracking{}
	for rows.Next() {
		var (
			item         Tracking
			lastNotified sql.NullTime
		)
		if err := rows.Scan(&item.MilestoneID, &item.TrackerID, &item.TrackerName, &item.CreatedAt, &lastNotified); err != nil {
			return nil, fmt.Errorf("scan tracking: %w", err)
		}
		if lastNotified.Valid {
			value := lastNotified.Time
			item.LastNotifiedAt = &value
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trackings: %w", err)
	}
	return items, nil
}

func (q *Queries) ListTrackingsByTracker(ctx context.Context, trackerID string) ([]TrackedMilestone, error) {
	rows, err := q.query(ctx, `
		SELECT m.id, m.owner_id, u.username, m.name, m.description, m.progress, m.tracking_count,
			m.version, m.start_date, m.end_date, m.created_at, m.updated_at,
			t.created_at, t.last_notified_at
		FROM trackings t
		JOIN milestones m ON m.id = t.milestone_id
		JOIN users u ON u.id = m.owner_id
		WHERE t.tracker_id = $1
		ORDER BY t.created_at, m.id
	`, trackerID)
	if err != nil {
		return nil, fmt.Errorf("list tracked milestones: %w", err)
	}
	defer rows.Close()

	items := []TrackedMilestone{}
	for rows.Next() {
		var (
			item         TrackedMilestone
			endDate      sql.NullTime
			lastNotified sql.NullTime
		)
		err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.OwnerName,
			&item.Name,
			&item.Description,
			&item.Progress,
			&item.TrackingCount,
			&item.Version,
			&item.StartDate,
			&endDate,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.TrackedAt,
			&lastNotified,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tracked milestone: %w", err)
		}
		if endDate.Valid {
			value := endDate.Time
			item.EndDate = &value
		}
		if lastNotified.Valid {
			value := lastNotified.Time
			item.LastNotifiedAt = &value
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked milestones: %w", err)
	}
	return items, nil
}

// MarkTrackingNotified stamps last_notified_at on one relationship.
func (q *Queries) MarkTrackingNotified(ctx context.Context, milestoneID, trackerID string, at time.Time) error {
	result, err := q.exec(ctx, `
		UPDATE trackings SET last_notified_at = $3 WHERE milestone_id = $1 AND tracker_id = $2
	`, milestoneID, trackerID, at)
	if err != nil {
		return fmt.Errorf("mark tracking notified: %w", err)
	}
	return requireOne(result)
}

// CountDistinctTrackers counts trackers across all milestones of an owner.
func (q *Queries) CountDistinctTrackers(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := q.queryRow(ctx, `
		SELECT COUNT(DISTINCT t.tracker_id)
		FROM trackings t
		JOIN milestones m ON m.id = t.milestone_id
		WHERE m.owner_id = $1
	`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count distinct trackers: %w", err)
	}
	return count, nil
}
