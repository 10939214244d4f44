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

var _ repository.MemberRepository = (*DB)(nil)

const memberColumns = `id, chat_id, user_id, chat_display_name, member_display_name`

// AddMember inserts a membership row and assigns its ID.
//
// THE JOIN RACE:
// Two requests joining the same chat for the same user can both pass the
// "already a member?" check in the service. Only one of their INSERTs gets
// past UNIQUE(chat_id, user_id); the other comes back as a conflict.
func (db *DB) AddMember(ctx context.Context, member *model.Member) error {
	id := xid.New().String()

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?)`,
		id,
		member.ChatID,
		member.UserID,
		member.ChatDisplayName,
		member.MemberDisplayName,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("member", member.ChatID+"/"+member.UserID)
		}
		return fmt.Errorf("sqlite: adding %s to chat %s: %w", member.UserID, member.ChatID, err)
	}

	member.ID = id
	return nil
}

func (db *DB) GetMember(ctx context.Context, chatID, userID string) (*model.Member, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("member", chatID+"/"+userID)
		}
		return nil, fmt.Errorf("sqlite: getting member %s/%s: %w", chatID, userID, err)
	}
	return m, nil
}

func (db *DB) GetMemberByID(ctx context.Context, memberID string) (*model.Member, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = ?`,
		memberID,
	)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("member", memberID)
		}
		return nil, fmt.Errorf("sqlite: getting member %s: %w", memberID, err)
	}
	return m, nil
}

func (db *DB) ListMembers(ctx context.Context, chatID string) ([]model.Member, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE chat_id = ? ORDER BY seq`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing members of %s: %w", chatID, err)
	}
	defer rows.Close()

	members := make([]model.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning member row: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating member rows: %w", err)
	}
	return members, nil
}

// DeleteMember removes the membership row. Messages the member wrote stay in
// the messages table.
func (db *DB) DeleteMember(ctx context.Context, memberID string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, memberID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting member %s: %w", memberID, err)
	}
	return requireOneRow(res, apperror.NotFound("member", memberID))
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMember(s scanner) (*model.Member, error) {
	var m model.Member
	if err := s.Scan(&m.ID, &m.ChatID, &m.UserID, &m.ChatDisplayName, &m.MemberDisplayName); err != nil {
		return nil, err
	}
	return &m, nil
}

// requireOneRow returns notFound when a DELETE matched nothing.
//
// RowsAffected is how a conditional DELETE tells us whether WE removed the
// row. When two requests delete the same row, exactly one sees 1 here.
func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
