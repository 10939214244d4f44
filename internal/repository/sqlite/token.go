package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

var _ repository.TokenRepository = (*DB)(nil)

// Token values never appear in error messages; they are bearer credentials.
const redacted = "<redacted>"

func (db *DB) CreateRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token, user_id) VALUES (?, ?)`,
		token.Token,
		token.UserID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("refresh token", redacted)
		}
		return fmt.Errorf("sqlite: storing refresh token for %s: %w", token.UserID, err)
	}
	return nil
}

func (db *DB) GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	rt := model.RefreshToken{Token: token}

	err := db.q.QueryRowContext(ctx,
		`SELECT user_id FROM refresh_tokens WHERE token = ?`,
		token,
	).Scan(&rt.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("refresh token", redacted)
		}
		return nil, fmt.Errorf("sqlite: getting refresh token: %w", err)
	}
	return &rt, nil
}

// DeleteRefreshToken is the heart of token rotation. The WHERE clause names
// both the token and its owner, so a stolen token cannot be revoked on behalf
// of someone else, and of two concurrent rotations only one deletes the row.
func (db *DB) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE token = ? AND user_id = ?`,
		token, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting refresh token of %s: %w", userID, err)
	}
	return requireOneRow(res, apperror.NotFound("refresh token", redacted))
}

func (db *DB) DeleteRefreshTokensByUser(ctx context.Context, userID string) (int64, error) {
	res, err := db.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting refresh tokens of %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	return n, nil
}
