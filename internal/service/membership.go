package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/metrics"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

// MembershipService handles chats, their secrets and who belongs to them.
//
// THE MEMBERSHIP RULES:
//   - The creator of a chat is its first member. Everyone else joins with the
//     chat secret.
//   - The secret is generated once, never rotated, and only ever disclosed
//     through an invitation delivered to the invitee's system chat.
//   - A user has at most one member row per chat. The storage layer enforces
//     this with a uniqueness constraint, so concurrent joins cannot both win.
//   - Leaving deletes the member row. The chat itself is never deleted.
//   - A system chat belongs to one user. It cannot be joined or shared, and
//     its owner cannot leave it.
type MembershipService struct {
	store   repository.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewMembershipService(store repository.Store, m *metrics.Metrics, logger *slog.Logger) *MembershipService {
	return &MembershipService{store: store, metrics: m, logger: logger}
}

// CreateChat creates a chat with a fresh secret and creator as its first
// member, all in one Atomic unit.
func (s *MembershipService) CreateChat(ctx context.Context, name string, creator *model.User) (*model.Chat, error) {
	name, err := validateName("defaultName", name)
	if err != nil {
		return nil, err
	}

	var chat *model.Chat
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		chat, err = createChat(ctx, tx, name, newChatSecret(), creator)
		return err
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/membership: creating chat for %s: %w", creator.ID, err)
	}

	s.metrics.ChatCreated()
	s.logger.Info("chat created",
		slog.String("chatID", chat.ID),
		slog.String("userID", creator.ID),
	)
	return chat, nil
}

// JoinChat adds user to chatID if secret matches the chat's secret.
//
// CHECK ORDER:
//  1. Already a member         → UserAlreadyMember
//  2. Chat or secret missing   → ChatNotFound
//  3. Someone's system chat    → Forbidden
//  4. Secret mismatch          → WrongChatSecret
//  5. Insert; losing a race against a concurrent join of the same user
//     surfaces as a storage Conflict and becomes UserAlreadyMember
//
// localName is the chat's name as this user will see it; empty means the
// chat's default name.
func (s *MembershipService) JoinChat(ctx context.Context, chatID, secret string, user *model.User, localName string) (*model.Member, error) {
	member, err := s.joinChat(ctx, chatID, secret, user, localName)
	switch {
	case err == nil:
		s.metrics.ChatJoin(metrics.ResultOK)
		s.logger.Info("member joined",
			slog.String("chatID", chatID),
			slog.String("userID", user.ID),
			slog.String("memberID", member.ID),
		)
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrNotFound),
		errors.Is(err, apperror.ErrForbidden), errors.Is(err, apperror.ErrConflict):
		s.metrics.ChatJoin(metrics.ResultRejected)
		s.logger.Debug("join rejected",
			slog.String("chatID", chatID),
			slog.String("userID", user.ID),
			slog.String("reason", apperror.Code(err)),
		)
	default:
		s.metrics.ChatJoin(metrics.ResultError)
	}
	return member, err
}

func (s *MembershipService) joinChat(ctx context.Context, chatID, secret string, user *model.User, localName string) (*model.Member, error) {
	_, err := s.store.GetMember(ctx, chatID, user.ID)
	if err == nil {
		return nil, apperror.UserAlreadyMember(chatID)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/membership: checking membership: %w", err)
	}

	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	stored, err := s.getSecret(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.rejectSystemChat(ctx, chatID); err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stored.Secret), []byte(secret)) != 1 {
		return nil, apperror.WrongChatSecret(chatID)
	}

	name := chat.DefaultName
	if localName != "" {
		if name, err = validateName("defaultName", localName); err != nil {
			return nil, err
		}
	}

	member := &model.Member{
		ChatID:            chatID,
		UserID:            user.ID,
		ChatDisplayName:   name,
		MemberDisplayName: user.DisplayName,
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.UserAlreadyMember(chatID)
		}
		return nil, fmt.Errorf("service/membership: adding member: %w", err)
	}
	return member, nil
}

// InviteToChat sends targetUserID the id and secret of chatID as a message
// from the system user, posted in the target's system chat. It does not make
// the target a member: they still have to join with the secret.
//
// The inviter must be a member of chatID, and chatID must not be a system
// chat. The system user cannot be invited.
func (s *MembershipService) InviteToChat(ctx context.Context, targetUserID, chatID string, inviter *model.User) (*model.Message, error) {
	if _, err := requireMember(ctx, s.store, chatID, inviter.ID); err != nil {
		return nil, err
	}
	secret, err := s.getSecret(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.rejectSystemChat(ctx, chatID); err != nil {
		return nil, err
	}

	target, err := s.store.GetUserByID(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.UserNotFound(targetUserID)
		}
		return nil, fmt.Errorf("service/membership: loading user %s: %w", targetUserID, err)
	}
	if target.IsSystem() {
		return nil, apperror.ValidationFailed("userId", "the system user cannot be invited")
	}

	systemChatID, err := s.systemChatOf(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	author, err := s.store.GetMember(ctx, systemChatID, model.SystemUserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.ChatNotFound(systemChatID)
		}
		return nil, fmt.Errorf("service/membership: loading system member: %w", err)
	}

	msg := &model.Message{
		MemberID: author.ID,
		Text:     invitationText(inviter, chatID, secret.Secret),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("service/membership: delivering invitation: %w", err)
	}

	s.metrics.MessagePosted()
	s.logger.Info("invitation sent",
		slog.String("chatID", chatID),
		slog.String("inviterID", inviter.ID),
		slog.String("targetID", targetUserID),
	)
	return msg, nil
}

func invitationText(inviter *model.User, chatID, secret string) string {
	return fmt.Sprintf("User %s (%s) invites you to chat %s. Use secret '%s'",
		inviter.DisplayName, inviter.ID, chatID, secret)
}

// systemChatOf returns the system chat provisioned for userID at
// registration: the chat named after userID that the user shares with the
// system user. The name matters: sharing a chat with the system user alone
// does not make it this user's inbox.
func (s *MembershipService) systemChatOf(ctx context.Context, userID string) (string, error) {
	ids, err := s.store.FindCommonChatIDs(ctx, userID, model.SystemUserID)
	if err != nil {
		return "", fmt.Errorf("service/membership: finding system chat of %s: %w", userID, err)
	}
	name := systemChatName(userID)
	for _, id := range ids {
		chat, err := s.store.GetChatByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("service/membership: loading chat %s: %w", id, err)
		}
		if chat.DefaultName == name {
			return id, nil
		}
	}
	return "", apperror.ChatNotFound(name)
}

// rejectSystemChat fails with Forbidden when chatID is a system chat.
func (s *MembershipService) rejectSystemChat(ctx context.Context, chatID string) error {
	system, err := isSystemChat(ctx, s.store, chatID)
	if err != nil {
		return fmt.Errorf("service/membership: %w", err)
	}
	if system {
		return apperror.Forbidden("chat " + chatID + " is a system chat")
	}
	return nil
}

// LeaveChat removes user from chatID. Messages they wrote stay stored but
// no longer appear in listings. Nobody leaves their own system chat: it is
// where invitations arrive.
func (s *MembershipService) LeaveChat(ctx context.Context, chatID string, user *model.User) error {
	member, err := requireMember(ctx, s.store, chatID, user.ID)
	if err != nil {
		return err
	}
	inbox, err := s.systemChatOf(ctx, user.ID)
	if err != nil && !errors.Is(err, apperror.ErrChatNotFound) {
		return err
	}
	if inbox == chatID {
		return apperror.Forbidden("cannot leave your own system chat")
	}
	if err := s.store.DeleteMember(ctx, member.ID); err != nil {
		// A concurrent leave got there first.
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.UserNotMember(chatID)
		}
		return fmt.Errorf("service/membership: deleting member %s: %w", member.ID, err)
	}

	s.logger.Info("member left",
		slog.String("chatID", chatID),
		slog.String("userID", user.ID),
		slog.String("memberID", member.ID),
	)
	return nil
}

// ListUserChats returns the chats user belongs to, oldest membership first.
func (s *MembershipService) ListUserChats(ctx context.Context, user *model.User) ([]model.Chat, error) {
	ids, err := s.store.ListChatIDsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/membership: listing chats of %s: %w", user.ID, err)
	}

	chats := make([]model.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.store.GetChatByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("service/membership: loading chat %s: %w", id, err)
		}
		chats = append(chats, *chat)
	}
	return chats, nil
}

// ListChatMembers returns the members of chatID in join order. Only members
// may look.
func (s *MembershipService) ListChatMembers(ctx context.Context, chatID string, requester *model.User) ([]model.Member, error) {
	if _, err := requireMember(ctx, s.store, chatID, requester.ID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("service/membership: listing members of %s: %w", chatID, err)
	}
	return members, nil
}

func (s *MembershipService) getChat(ctx context.Context, chatID string) (*model.Chat, error) {
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.ChatNotFound(chatID)
		}
		return nil, fmt.Errorf("service/membership: loading chat %s: %w", chatID, err)
	}
	return chat, nil
}

func (s *MembershipService) getSecret(ctx context.Context, chatID string) (*model.ChatSecret, error) {
	secret, err := s.store.GetChatSecret(ctx, chatID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.ChatNotFound(chatID)
		}
		return nil, fmt.Errorf("service/membership: loading secret of %s: %w", chatID, err)
	}
	return secret, nil
}
