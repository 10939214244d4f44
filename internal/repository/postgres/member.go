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

const memberColumns = `id, chat_id, user_id, chat_display_name, member_display_name`

func (s *Store) AddMember(ctx context.Context, member *model.Member) error {
	id := xid.New().String()
	_, err := s.q.Exec(ctx,
		`INSERT INTO members (`+memberColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		id, member.ChatID, member.UserID, member.ChatDisplayName, member.MemberDisplayName,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("member", member.ChatID+"/"+member.UserID)
		}
		return fmt.Errorf("postgres: adding %s to chat %s: %w", member.UserID, member.ChatID, err)
	}
	member.ID = id
	return nil
}

func (s *Store) GetMember(ctx context.Context, chatID, userID string) (*model.Member, error) {
	m, err := scanMember(s.q.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE chat_id = $1 AND user_id = $2`, chatID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("member", chatID+"/"+userID)
		}
		return nil, fmt.Errorf("postgres: getting member %s/%s: %w", chatID, userID, err)
	}
	return &m, nil
}

func (s *Store) GetMemberByID(ctx context.Context, memberID string) (*model.Member, error) {
	m, err := scanMember(s.q.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, memberID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("member", memberID)
		}
		return nil, fmt.Errorf("postgres: getting member %s: %w", memberID, err)
	}
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, chatID string) ([]model.Member, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+memberColumns+` FROM members WHERE chat_id = $1 ORDER BY seq`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing members of %s: %w", chatID, err)
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Member, error) {
		return scanMember(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: reading members of %s: %w", chatID, err)
	}
	return members, nil
}

func (s *Store) DeleteMember(ctx context.Context, memberID string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM members WHERE id = $1`, memberID)
	if err != nil {
		return fmt.Errorf("postgres: deleting member %s: %w", memberID, err)
	}
	return requireOneRow(tag, apperror.NotFound("member", memberID))
}

func scanMember(row pgx.Row) (model.Member, error) {
	var m model.Member
	err := row.Scan(&m.ID, &m.ChatID, &m.UserID, &m.ChatDisplayName, &m.MemberDisplayName)
	return m, err
}
