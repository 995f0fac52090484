package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const userColumns = `id, username, email, password_hash, role, daily_limit, remaining,
	notify_email, notify_daily_summary, notify_push, interest_categories, created_at`

func (q *Queries) CreateUser(ctx context.Context, user User) error {
	categories, err := json.Marshal(nonNilStrings(user.InterestCategories))
	if err != nil {
		return fmt.Errorf("marshal interest categories: %w", err)
	}
	_, err = q.exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		user.ID,
		user.Username,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.PasswordHash,
		user.Role,
		user.DailyLimit,
		user.Remaining,
		user.NotificationSettings.Email,
		user.NotificationSettings.DailySummary,
		user.NotificationSettings.Push,
		string(categories),
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	return q.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return q.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return q.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (q *Queries) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (q *Queries) getUser(ctx context.Context, query string, arg string) (User, error) {
	user, err := scanUser(q.queryRow(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (q *Queries) UpdateNotificationSettings(ctx context.Context, userID string, settings NotificationSettings) error {
	result, err := q.exec(ctx, `
		UPDATE users SET notify_email = $2, notify_daily_summary = $3, notify_push = $4
		WHERE id = $1
	`, userID, settings.Email, settings.DailySummary, settings.Push)
	if err != nil {
		return fmt.Errorf("update notification settings: %w", err)
	}
	return requireOne(result)
}

func (q *Queries) UpdateInterestCategories(ctx context.Context, userID string, categories []string) error {
	encoded, err := json.Marshal(nonNilStrings(categories))
	if err != nil {
		return fmt.Errorf("marshal interest categories: %w", err)
	}
	result, err := q.exec(ctx, `UPDATE users SET interest_categories = $2 WHERE id = $1`, userID, string(encoded))
	if err != nil {
		return fmt.Errorf("update interest categories: %w", err)
	}
	return requireOne(result)
}

// ConsumeQuota decrements remaining by one only while it is positive.
// It returns ErrQuotaExhausted when no allowance is left.
func (q *Queries) ConsumeQuota(ctx context.Context, trackerID string) (int, error) {
	var remaining int
	err := q.queryRow(ctx, `
		UPDATE users SET remaining = remaining - 1
		WHERE id = $1 AND remaining > 0
		RETURNING remaining
	`, trackerID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrQuotaExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("consume quota: %w", err)
	}
	return remaining, nil
}

// ResetQuota restores remaining to daily_limit. Repeating it is a no-op.
func (q *Queries) ResetQuota(ctx context.Context, trackerID string) (int, error) {
	var remaining int
	err := q.queryRow(ctx, `
		UPDATE users SET remaining = daily_limit
		WHERE id = $1
		RETURNING remaining
	`, trackerID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reset quota: %w", err)
	}
	return remaining, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user       User
		categories string
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.DailyLimit,
		&user.Remaining,
		&user.NotificationSettings.Email,
		&user.NotificationSettings.DailySummary,
		&user.NotificationSettings.Push,
		&categories,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if err := json.Unmarshal([]byte(categories), &user.InterestCategories); err != nil {
		return User{}, fmt.Errorf("decode interest categories: %w", err)
	}
	user.InterestCategories = nonNilStrings(user.InterestCategories)
	return user, nil
}

func requireOne(result sql.Result) error {
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
