package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQL-backed refresh sessions, used when Redis is not configured.

func (q *Queries) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := q.exec(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, tokenHash, userID, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (q *Queries) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := q.queryRow(ctx, `
		SELECT user_id FROM refresh_sessions WHERE token_hash = $1 AND expires_at > $2
	`, tokenHash, time.Now().UTC()).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh session: %w", err)
	}
	return userID, nil
}

func (q *Queries) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := q.exec(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (q *Queries) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := q.exec(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (q *Queries) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE jti = $1`, jti).Scan(&count); err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}
