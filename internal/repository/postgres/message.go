package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
)

// CreateMessage advances message_clock and inserts in one statement. The
// UPDATE takes the clock row lock, so concurrent inserts queue up behind it
// and both id and created_on come out strictly increasing.
func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	var createdOn int64
	err := s.q.QueryRow(ctx,
		`WITH clock AS (
			UPDATE message_clock
			SET last_created_on = GREATEST(last_created_on + 1, $3)
			RETURNING last_created_on
		)
		INSERT INTO messages (member_id, text, created_on)
		SELECT $1, $2, last_created_on FROM clock
		RETURNING id, created_on`,
		msg.MemberID, msg.Text, time.Now().UnixNano(),
	).Scan(&msg.ID, &createdOn)
	if err != nil {
		return fmt.Errorf("postgres: creating message: %w", err)
	}
	msg.CreatedOn = time.Unix(0, createdOn).UTC()
	return nil
}

func (s *Store) GetMessageByID(ctx context.Context, id int64) (*model.Message, error) {
	m, err := scanMessage(s.q.QueryRow(ctx,
		`SELECT id, member_id, text, created_on FROM messages WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("message", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("postgres: getting message %d: %w", id, err)
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, afterID int64) ([]model.Message, error) {
	rows, err := s.q.Query(ctx,
		`SELECT m.id, m.member_id, m.text, m.created_on
		 FROM messages m
		 JOIN members mb ON mb.id = m.member_id
		 WHERE mb.chat_id = $1 AND m.id > $2
		 ORDER BY m.id`,
		chatID, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing messages of %s: %w", chatID, err)
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: reading messages of %s: %w", chatID, err)
	}
	return messages, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deleting message %d: %w", id, err)
	}
	return requireOneRow(tag, apperror.NotFound("message", strconv.FormatInt(id, 10)))
}

func scanMessage(row pgx.Row) (model.Message, error) {
	var (
		m         model.Message
		createdOn int64
	)
	if err := row.Scan(&m.ID, &m.MemberID, &m.Text, &createdOn); err != nil {
		return m, err
	}
	m.CreatedOn = time.Unix(0, createdOn).UTC()
	return m, nil
}
