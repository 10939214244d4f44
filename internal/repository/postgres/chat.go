package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
)

func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) error {
	id := xid.New().String()
	if _, err := s.q.Exec(ctx,
		`INSERT INTO chats (id, default_name) VALUES ($1, $2)`, id, chat.DefaultName,
	); err != nil {
		return fmt.Errorf("postgres: creating chat: %w", err)
	}
	chat.ID = id
	return nil
}

func (s *Store) GetChatByID(ctx context.Context, id string) (*model.Chat, error) {
	var c model.Chat
	err := s.q.QueryRow(ctx,
		`SELECT id, default_name FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.DefaultName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("chat", id)
		}
		return nil, fmt.Errorf("postgres: getting chat %s: %w", id, err)
	}
	return &c, nil
}

func (s *Store) ListChatIDsByUser(ctx context.Context, userID string) ([]string, error) {
	return s.queryIDs(ctx, "listing chats of "+userID,
		`SELECT chat_id FROM members WHERE user_id = $1 ORDER BY seq`, userID)
}

func (s *Store) FindCommonChatIDs(ctx context.Context, userA, userB string) ([]string, error) {
	return s.queryIDs(ctx, "finding common chats",
		`SELECT a.chat_id
		 FROM members a
		 JOIN members b ON b.chat_id = a.chat_id
		 WHERE a.user_id = $1 AND b.user_id = $2
		 ORDER BY a.seq`,
		userA, userB)
}

func (s *Store) CreateChatSecret(ctx context.Context, secret *model.ChatSecret) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO chat_secrets (chat_id, secret) VALUES ($1, $2)`, secret.ChatID, secret.Secret,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("chat secret", secret.ChatID)
		}
		return fmt.Errorf("postgres: creating secret for chat %s: %w", secret.ChatID, err)
	}
	return nil
}

func (s *Store) GetChatSecret(ctx context.Context, chatID string) (*model.ChatSecret, error) {
	cs := model.ChatSecret{ChatID: chatID}
	err := s.q.QueryRow(ctx,
		`SELECT secret FROM chat_secrets WHERE chat_id = $1`, chatID,
	).Scan(&cs.Secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("chat secret", chatID)
		}
		return nil, fmt.Errorf("postgres: getting secret for chat %s: %w", chatID, err)
	}
	return &cs, nil
}

func (s *Store) queryIDs(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	return ids, nil
}
