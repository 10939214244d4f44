package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

// chatSecretLength is the number of hex characters in a chat secret.
const chatSecretLength = 12

// newChatSecret returns 12 lowercase hex characters (48 bits) taken from a
// random (version 4) UUID.
func newChatSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:chatSecretLength]
}

// createChat is the three-step unit behind every new chat: the chat row, its
// secret, and the creator as first member (named after the chat). It must be
// called with a transaction-scoped store.
//
// It is shared by MembershipService.CreateChat and the system chat that
// IdentityService.Register provisions for every new user.
func createChat(ctx context.Context, tx repository.Store, name, secret string, creator *model.User) (*model.Chat, error) {
	chat := &model.Chat{DefaultName: name}
	if err := tx.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}

	err := tx.CreateChatSecret(ctx, &model.ChatSecret{ChatID: chat.ID, Secret: secret})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.SecretAlreadyExists(chat.ID)
		}
		return nil, fmt.Errorf("storing secret for chat %s: %w", chat.ID, err)
	}

	err = tx.AddMember(ctx, &model.Member{
		ChatID:            chat.ID,
		UserID:            creator.ID,
		ChatDisplayName:   name,
		MemberDisplayName: creator.DisplayName,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.UserAlreadyMember(chat.ID)
		}
		return nil, fmt.Errorf("adding creator to chat %s: %w", chat.ID, err)
	}

	return chat, nil
}

// requireMember returns userID's member row in chatID, or UserNotMember.
// Every chat-scoped operation starts here: permissions are derived from the
// current membership on every call and never cached.
func requireMember(ctx context.Context, store repository.MemberRepository, chatID, userID string) (*model.Member, error) {
	m, err := store.GetMember(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.UserNotMember(chatID)
		}
		return nil, fmt.Errorf("checking membership of %s in %s: %w", userID, chatID, err)
	}
	return m, nil
}

// isSystemChat reports whether the system user belongs to chatID. The system
// user never joins anything itself, so the only such chats are the inboxes
// Register provisions.
func isSystemChat(ctx context.Context, store repository.MemberRepository, chatID string) (bool, error) {
	_, err := store.GetMember(ctx, chatID, model.SystemUserID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperror.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("checking system membership of %s: %w", chatID, err)
}
