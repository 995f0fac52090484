package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const milestoneSelect = `
	SELECT m.id, m.owner_id, u.username, m.name, m.description, m.progress, m.tracking_count,
		m.version, m.start_date, m.end_date, m.created_at, m.updated_at
	FROM milestones m
	JOIN users u ON u.id = m.owner_id`

func (q *Queries) CreateMilestone(ctx context.Context, milestone Milestone) error {
	var endDate any
	if milestone.EndDate != nil {
		endDate = *milestone.EndDate
	}
	_, err := q.exec(ctx, `
		INSERT INTO milestones (id, owner_id, name, description, progress, tracking_count, version, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 1, $6, $7, $8, $8)
	`,
		milestone.ID,
		milestone.OwnerID,
		milestone.Name,
		milestone.Description,
		milestone.Progress,
		milestone.StartDate,
		endDate,
		milestone.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

func (q *Queries) GetMilestone(ctx context.Context, id string) (Milestone, error) {
	milestone, err := scanMilestone(q.queryRow(ctx, milestoneSelect+` WHERE m.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Milestone{}, ErrNotFound
	}
	if err != nil {
		return Milestone{}, fmt.Errorf("get milestone: %w", err)
	}
	return milestone, nil
}

func (q *Queries) ListMilestones(ctx context.Context) ([]Milestone, error) {
	return q.listMilestones(ctx, milestoneSelect+` ORDER BY m.created_at, m.id`)
}

func (q *Queries) ListMilestonesByOwner(ctx context.Context, ownerID string) ([]Milestone, error) {
	return q.listMilestones(ctx, milestoneSelect+` WHERE m.owner_id = $1 ORDER BY m.created_at, m.id`, ownerID)
}

// ListAvailableMilestones returns every milestone the tracker does not track yet.
func (q *Queries) ListAvailableMilestones(ctx context.Context, trackerID string) ([]Milestone, error) {
	return q.listMilestones(ctx, milestoneSelect+`
		WHERE NOT EXISTS (
			SELECT 1 FROM trackings t WHERE t.milestone_id = m.id AND t.tracker_id = $1
		)
		ORDER BY m.created_at, m.id`, trackerID)
}

// SearchMilestones matches text against name and description, case-insensitively.
func (q *Queries) SearchMilestones(ctx context.Context, text string, limit, offset int) ([]Milestone, int, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(text)) + "%"
	const where = ` WHERE LOWER(m.name) LIKE $1 OR LOWER(m.description) LIKE $1`

	var total int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM milestones m`+where, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count milestone matches: %w", err)
	}
	items, err := q.listMilestones(ctx, milestoneSelect+where+` ORDER BY m.updated_at DESC, m.id LIMIT $2 OFFSET $3`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (q *Queries) listMilestones(ctx context.Context, query string, args ...any) ([]Milestone, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	items := []Milestone{}
	for rows.Next() {
		milestone, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		items = append(items, milestone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return items, nil
}

func (q *Queries) UpdateMilestoneDetails(ctx context.Context, id, name, description string, at time.Time) error {
	result, err := q.exec(ctx, `
		UPDATE milestones SET name = $2, description = $3, version = version + 1, updated_at = $4
		WHERE id = $1
	`, id, name, description, at)
	if err != nil {
		return fmt.Errorf("update milestone: %w", err)
	}
	return requireOne(result)
}

// SetProgress is a compare-and-set on version. It returns ErrVersionConflict
// when another writer changed the milestone since it was read.
func (q *Queries) SetProgress(ctx context.Context, id string, progress, expectedVersion int, at time.Time) error {
	result, err := q.exec(ctx, `
		UPDATE milestones SET progress = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND version = $4
	`, id, progress, at, expectedVersion)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (q *Queries) IncrementTrackingCount(ctx context.Context, id string) error {
	result, err := q.exec(ctx, `UPDATE milestones SET tracking_count = tracking_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment tracking count: %w", err)
	}
	return requireOne(result)
}

func scanMilestone(row rowScanner) (Milestone, error) {
	var (
		milestone Milestone
		endDate   sql.NullTime
	)
	err := row.Scan(
		&milestone.ID,
		&milestone.OwnerID,
		&milestone.OwnerName,
		&milestone.Name,
		&milestone.Description,
		&milestone.Progress,
		&milestone.TrackingCount,
		&milestone.Version,
		&milestone.StartDate,
		&endDate,
		&milestone.CreatedAt,
		&milestone.UpdatedAt,
	)
	if err != nil {
		return Milestone{}, err
	}
	if endDate.Valid {
		value := endDate.Time
		milestone.EndDate = &value
	}
	return milestone, nil
}
