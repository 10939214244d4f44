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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// CreateUser inserts a new user. The caller chooses the ID (the login name),
// so unlike chats and members there is nothing to generate here.
//
// NO "SELECT THEN INSERT":
// Checking for an existing row first and inserting afterwards leaves a gap in
// which a second request can insert the same ID. Instead we just INSERT and
// let the PRIMARY KEY reject the duplicate; isUniqueViolation turns the driver
// error into an apperror.Conflict the service layer understands.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO users (id, display_name, name_key, password_hash) VALUES (?, ?, ?, ?)`,
		user.ID,
		user.DisplayName,
		repository.FoldName(user.DisplayName),
		user.PasswordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.ID)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.ID, err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User

	err := db.q.QueryRowContext(ctx,
		`SELECT id, display_name, password_hash FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.DisplayName, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}

	return &u, nil
}

// FindUsersByName does a case-insensitive substring match on display names.
//
// Both sides are folded in Go (name_key is written by CreateUser), because
// SQLite's lower() leaves Cyrillic and every other non-ASCII letter alone.
// instr is used instead of LIKE so that a search for "50%" or "a_b" matches
// literally; LIKE would treat % and _ as wildcards.
func (db *DB) FindUsersByName(ctx context.Context, part string) ([]model.User, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT id, display_name, password_hash
		 FROM users
		 WHERE instr(name_key, ?) > 0
		 ORDER BY id`,
		repository.FoldName(part),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding users by name: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.PasswordHash); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}

	return users, nil
}
