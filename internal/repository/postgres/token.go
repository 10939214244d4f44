package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
)

const redacted = "<redacted>"

func (s *Store) CreateRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO refresh_tokens (token, user_id) VALUES ($1, $2)`, token.Token, token.UserID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("refresh token", redacted)
		}
		return fmt.Errorf("postgres: storing refresh token for %s: %w", token.UserID, err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	rt := model.RefreshToken{Token: token}
	err := s.q.QueryRow(ctx,
		`SELECT user_id FROM refresh_tokens WHERE token = $1`, token,
	).Scan(&rt.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("refresh token", redacted)
		}
		return nil, fmt.Errorf("postgres: getting refresh token: %w", err)
	}
	return &rt, nil
}

// DeleteRefreshToken is a conditional delete: when two transactions race for
// the same row, the loser blocks on the row lock and then affects zero rows.
func (s *Store) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE token = $1 AND user_id = $2`, token, userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: deleting refresh token of %s: %w", userID, err)
	}
	return requireOneRow(tag, apperror.NotFound("refresh token", redacted))
}

func (s *Store) DeleteRefreshTokensByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("postgres: deleting refresh tokens of %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}
