package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (q *Queries) InsertNotification(ctx context.Context, n Notification) error {
	var related any
	if n.RelatedMilestoneID != "" {
		related = n.RelatedMilestoneID
	}
	_, err := q.exec(ctx, `
		INSERT INTO notifications (id, recipient_id, title, message, kind, is_read, related_milestone_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.RecipientID, n.Title, n.Message, n.Kind, n.Read, related, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (q *Queries) ListNotifications(ctx context.Context, recipientID string, filter NotificationFilter) ([]Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, recipient_id, title, message, kind, is_read, related_milestone_id, created_at
		FROM notifications
		WHERE recipient_id = $1`
	if filter.UnreadOnly {
		query += ` AND is_read = $3`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	args := []any{recipientID, limit}
	if filter.UnreadOnly {
		args = append(args, false)
	}

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := []Notification{}
	for rows.Next() {
		var (
			item    Notification
			related sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.RecipientID, &item.Title, &item.Message, &item.Kind, &item.Read, &related, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		item.RelatedMilestoneID = related.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (q *Queries) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = $2`, recipientID, false).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead flips is_read to true for the recipient's notification.
// There is no way back to unread.
func (q *Queries) MarkNotificationRead(ctx context.Context, recipientID, notificationID string) error {
	result, err := q.exec(ctx, `
		UPDATE notifications SET is_read = $3
		WHERE id = $1 AND recipient_id = $2
	`, notificationID, recipientID, true)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireOne(result)
}

func (q *Queries) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error) {
	result, err := q.exec(ctx, `
		UPDATE notifications SET is_read = $2
		WHERE recipient_id = $1 AND is_read = $3
	`, recipientID, true, false)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
