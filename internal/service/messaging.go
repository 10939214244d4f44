package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/metrics"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

// MessagingService posts, pages through and deletes chat messages.
//
// A message is written by a member row, not by a user, and a chat's history
// is the set of messages whose author is a CURRENT member of that chat. When
// a member leaves, their messages drop out of every listing.
type MessagingService struct {
	store   repository.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewMessagingService(store repository.Store, m *metrics.Metrics, logger *slog.Logger) *MessagingService {
	return &MessagingService{store: store, metrics: m, logger: logger}
}

// PostMessage stores text in chatID on behalf of author. The store assigns
// the id and timestamp; both increase strictly with every message.
func (s *MessagingService) PostMessage(ctx context.Context, chatID, text string, author *model.User) (*model.Message, error) {
	if err := validateMessageText(text); err != nil {
		return nil, err
	}
	member, err := requireMember(ctx, s.store, chatID, author.ID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{MemberID: member.ID, Text: text}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.MessageAlreadyExists(msg.ID)
		}
		return nil, fmt.Errorf("service/messaging: posting to %s: %w", chatID, err)
	}

	s.metrics.MessagePosted()
	s.logger.Debug("message posted",
		slog.String("chatID", chatID),
		slog.String("memberID", member.ID),
		slog.Int64("messageID", msg.ID),
	)
	return msg, nil
}

// ListMessages returns chatID's history in creation order.
//
// PAGINATION:
//   - afterID = 0 returns everything
//   - afterID > 0 returns the messages created after message afterID
//   - afterID that names no stored message also returns everything, so a
//     client holding a cursor to a deleted message re-syncs from scratch
//     instead of failing
//   - afterID < 0 is a validation error
func (s *MessagingService) ListMessages(ctx context.Context, chatID string, requester *model.User, afterID int64) ([]model.Message, error) {
	if afterID < 0 {
		return nil, apperror.ValidationFailed("afterId", "afterId must not be negative")
	}
	if _, err := requireMember(ctx, s.store, chatID, requester.ID); err != nil {
		return nil, err
	}

	if afterID > 0 {
		if _, err := s.store.GetMessageByID(ctx, afterID); err != nil {
			if !errors.Is(err, apperror.ErrNotFound) {
				return nil, fmt.Errorf("service/messaging: resolving cursor %d: %w", afterID, err)
			}
			afterID = 0
		}
	}

	messages, err := s.store.ListMessages(ctx, chatID, afterID)
	if err != nil {
		return nil, fmt.Errorf("service/messaging: listing %s: %w", chatID, err)
	}
	return messages, nil
}

// DeleteMessage removes a message for good. The requester must be a member
// of the chat the message was posted in; they need not be its author.
//
// Deleting a message that does not exist succeeds. If the author has left
// the chat, the chat can no longer be resolved and ChatNotFound is returned.
func (s *MessagingService) DeleteMessage(ctx context.Context, messageID int64, requester *model.User) error {
	msg, err := s.store.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("service/messaging: loading message %d: %w", messageID, err)
	}

	author, err := s.store.GetMemberByID(ctx, msg.MemberID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ChatNotFound("of message " + strconv.FormatInt(messageID, 10))
		}
		return fmt.Errorf("service/messaging: loading author of %d: %w", messageID, err)
	}
	if _, err := requireMember(ctx, s.store, author.ChatID, requester.ID); err != nil {
		return err
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/messaging: deleting message %d: %w", messageID, err)
	}

	s.logger.Info("message deleted",
		slog.String("chatID", author.ChatID),
		slog.Int64("messageID", messageID),
		slog.String("userID", requester.ID),
	)
	return nil
}
