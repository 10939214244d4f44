package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO users (id, display_name, name_key, password_hash) VALUES ($1, $2, $3, $4)`,
		user.ID, user.DisplayName, repository.FoldName(user.DisplayName), user.PasswordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.ID)
		}
		return fmt.Errorf("postgres: inserting user %s: %w", user.ID, err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.q.QueryRow(ctx,
		`SELECT id, display_name, password_hash FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", id, err)
	}
	return &u, nil
}

// FindUsersByName uses strpos rather than ILIKE so % and _ in the search
// text are matched literally. name_key is folded in Go, so the result does
// not depend on the database's locale.
func (s *Store) FindUsersByName(ctx context.Context, part string) ([]model.User, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, display_name, password_hash
		 FROM users
		 WHERE strpos(name_key, $1) > 0
		 ORDER BY id`,
		repository.FoldName(part),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: finding users by name: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.User, error) {
		var u model.User
		err := row.Scan(&u.ID, &u.DisplayName, &u.PasswordHash)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: reading users: %w", err)
	}
	return users, nil
}
