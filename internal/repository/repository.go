// Package repository defines the storage contract the services depend on.
//
// Implementations live in sub-packages (memory, sqlite, postgres). Services
// only ever see these interfaces, so the same business rules run unchanged
// against any backend.
//
// ERROR CONTRACT:
//   - lookups of a missing row return an error matching apperror.ErrNotFound
//   - inserts that violate a uniqueness constraint return apperror.ErrConflict
//   - anything else is an unexpected storage failure
package repository

import (
	"context"
	"strings"

	"github.com/sakif/messenger/internal/model"
)

// FoldName is the case folding behind FindUsersByName. Every backend folds
// in Go with this function rather than in SQL: SQLite's lower() only knows
// ASCII and Postgres' depends on the database locale, so "Иван" would match
// "иван" on one backend and not on another.
func FoldName(name string) string {
	return strings.ToLower(name)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// FindUsersByName matches part against display names, case-insensitively
	// as defined by FoldName. An empty part matches every user. Results are
	// ordered by user ID.
	FindUsersByName(ctx context.Context, part string) ([]model.User, error)
}

type ChatRepository interface {
	// CreateChat assigns chat.ID.
	CreateChat(ctx context.Context, chat *model.Chat) error
	GetChatByID(ctx context.Context, id string) (*model.Chat, error)
	// ListChatIDsByUser returns the chats userID is a member of, in join order.
	ListChatIDsByUser(ctx context.Context, userID string) ([]string, error)
	// FindCommonChatIDs returns the chats both users are members of.
	FindCommonChatIDs(ctx context.Context, userA, userB string) ([]string, error)
	CreateChatSecret(ctx context.Context, secret *model.ChatSecret) error
	GetChatSecret(ctx context.Context, chatID string) (*model.ChatSecret, error)
}

type MemberRepository interface {
	// AddMember assigns member.ID. A second member for the same
	// (ChatID, UserID) is rejected with a conflict by the store itself, not
	// by a prior existence check, so concurrent joins cannot both succeed.
	AddMember(ctx context.Context, member *model.Member) error
	GetMember(ctx context.Context, chatID, userID string) (*model.Member, error)
	GetMemberByID(ctx context.Context, memberID string) (*model.Member, error)
	// ListMembers returns the current members of chatID in join order.
	ListMembers(ctx context.Context, chatID string) ([]model.Member, error)
	DeleteMember(ctx context.Context, memberID string) error
}

type MessageRepository interface {
	// CreateMessage assigns msg.ID and msg.CreatedOn. Both increase strictly
	// with every insert.
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessageByID(ctx context.Context, id int64) (*model.Message, error)
	// ListMessages returns messages authored by the current members of chatID
	// with an ID greater than afterID, oldest first.
	ListMessages(ctx context.Context, chatID string, afterID int64) ([]model.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
}

type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *model.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error)
	// DeleteRefreshToken removes token only if it belongs to userID. It
	// returns a not-found error otherwise, so of two concurrent deletes of the
	// same token exactly one succeeds.
	DeleteRefreshToken(ctx context.Context, userID, token string) error
	// DeleteRefreshTokensByUser removes every token of userID and reports how
	// many were removed.
	DeleteRefreshTokensByUser(ctx context.Context, userID string) (int64, error)
}

// Store is the complete storage contract.
type Store interface {
	UserRepository
	ChatRepository
	MemberRepository
	MessageRepository
	TokenRepository

	// Atomic runs fn against a transaction-scoped Store. Everything fn does
	// is committed together when it returns nil and discarded otherwise.
	// Calling Atomic on the Store passed to fn runs the nested fn inline.
	Atomic(ctx context.Context, fn func(Store) error) error
}
