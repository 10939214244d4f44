package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

var _ repository.MessageRepository = (*DB)(nil)

// CreateMessage inserts a message and fills in msg.ID and msg.CreatedOn.
//
// STRICTLY INCREASING TIMESTAMPS:
// created_on is stored as Unix nanoseconds. Two inserts inside the same clock
// tick (or after the wall clock steps backwards) would otherwise collide, so
// the INSERT takes whichever is larger: now, or the newest existing value + 1.
// Doing it in one statement means there is no read-then-write window.
//
// The id column is INTEGER PRIMARY KEY AUTOINCREMENT, which guarantees new IDs
// are always larger than any ID ever used, even after deletes.
//
// RETURNING (SQLite 3.35+) gives us both generated values without a second
// round trip.
func (db *DB) CreateMessage(ctx context.Context, msg *model.Message) error {
	var createdOn int64

	err := db.q.QueryRowContext(ctx,
		`INSERT INTO messages (member_id, text, created_on)
		 SELECT ?, ?, MAX(?, COALESCE(MAX(created_on), 0) + 1) FROM messages
		 RETURNING id, created_on`,
		msg.MemberID,
		msg.Text,
		time.Now().UnixNano(),
	).Scan(&msg.ID, &createdOn)
	if err != nil {
		return fmt.Errorf("sqlite: creating message: %w", err)
	}

	msg.CreatedOn = time.Unix(0, createdOn).UTC()
	return nil
}

func (db *DB) GetMessageByID(ctx context.Context, id int64) (*model.Message, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT id, member_id, text, created_on FROM messages WHERE id = ?`,
		id,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("message", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting message %d: %w", id, err)
	}
	return m, nil
}

// ListMessages returns the chat's messages newer than afterID.
//
// The JOIN with members does two jobs: it scopes messages to the chat (the
// messages table only knows the author's member_id) and it drops messages
// whose author has left, because their member row is gone.
func (db *DB) ListMessages(ctx context.Context, chatID string, afterID int64) ([]model.Message, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT m.id, m.member_id, m.text, m.created_on
		 FROM messages m
		 JOIN members mb ON mb.id = m.member_id
		 WHERE mb.chat_id = ? AND m.id > ?
		 ORDER BY m.id`,
		chatID, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing messages of %s: %w", chatID, err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating message rows: %w", err)
	}
	return messages, nil
}

func (db *DB) DeleteMessage(ctx context.Context, id int64) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting message %d: %w", id, err)
	}
	return requireOneRow(res, apperror.NotFound("message", strconv.FormatInt(id, 10)))
}

func scanMessage(s scanner) (*model.Message, error) {
	var (
		m         model.Message
		createdOn int64
	)
	if err := s.Scan(&m.ID, &m.MemberID, &m.Text, &createdOn); err != nil {
		return nil, err
	}
	m.CreatedOn = time.Unix(0, createdOn).UTC()
	return &m, nil
}
