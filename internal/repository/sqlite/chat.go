package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

var _ repository.ChatRepository = (*DB)(nil)

// CreateChat inserts a chat and assigns its ID.
//
// xid IDs are 20 URL-safe characters and sort by creation time, which keeps
// them short in URLs like /v1/chats/{id}/messages.
func (db *DB) CreateChat(ctx context.Context, chat *model.Chat) error {
	id := xid.New().String()

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO chats (id, default_name) VALUES (?, ?)`,
		id,
		chat.DefaultName,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating chat: %w", err)
	}

	chat.ID = id
	return nil
}

func (db *DB) GetChatByID(ctx context.Context, id string) (*model.Chat, error) {
	var c model.Chat

	err := db.q.QueryRowContext(ctx,
		`SELECT id, default_name FROM chats WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.DefaultName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("chat", id)
		}
		return nil, fmt.Errorf("sqlite: getting chat %s: %w", id, err)
	}

	return &c, nil
}

// ListChatIDsByUser returns chat IDs in the order the user joined them.
// members.seq is AUTOINCREMENT, so it never goes backwards even after deletes.
func (db *DB) ListChatIDsByUser(ctx context.Context, userID string) ([]string, error) {
	return db.queryIDs(ctx, "listing chats of "+userID,
		`SELECT chat_id FROM members WHERE user_id = ? ORDER BY seq`,
		userID,
	)
}

// FindCommonChatIDs uses a self-join on members: a row for userA and a row
// for userB with the same chat_id means both are in that chat.
func (db *DB) FindCommonChatIDs(ctx context.Context, userA, userB string) ([]string, error) {
	return db.queryIDs(ctx, "finding common chats",
		`SELECT a.chat_id
		 FROM members a
		 JOIN members b ON b.chat_id = a.chat_id
		 WHERE a.user_id = ? AND b.user_id = ?
		 ORDER BY a.seq`,
		userA, userB,
	)
}

func (db *DB) CreateChatSecret(ctx context.Context, secret *model.ChatSecret) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO chat_secrets (chat_id, secret) VALUES (?, ?)`,
		secret.ChatID,
		secret.Secret,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("chat secret", secret.ChatID)
		}
		return fmt.Errorf("sqlite: creating secret for chat %s: %w", secret.ChatID, err)
	}
	return nil
}

func (db *DB) GetChatSecret(ctx context.Context, chatID string) (*model.ChatSecret, error) {
	s := model.ChatSecret{ChatID: chatID}

	err := db.q.QueryRowContext(ctx,
		`SELECT secret FROM chat_secrets WHERE chat_id = ?`,
		chatID,
	).Scan(&s.Secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("chat secret", chatID)
		}
		return nil, fmt.Errorf("sqlite: getting secret for chat %s: %w", chatID, err)
	}

	return &s, nil
}

// queryIDs runs a query that selects a single TEXT column.
func (db *DB) queryIDs(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", what, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: %s: %w", what, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", what, err)
	}
	return ids, nil
}
