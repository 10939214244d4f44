// Package service is the business logic layer.
//
// Three services sit between the HTTP handlers and the storage contract:
//
//	handler (HTTP) → IdentityService   (users, sign-in, refresh tokens)
//	               → MembershipService (chats, secrets, invitations)
//	               → MessagingService  (posting, paging, deleting)
//	                        ↓
//	               repository.Store (memory, sqlite or postgres)
//
// KEY RESPONSIBILITIES:
//   - Own every authorization rule. Handlers decode and encode; they never
//     decide who may do what.
//   - Translate storage outcomes (NotFound, Conflict) into the stable domain
//     error kinds from apperror.
//   - Group multi-step writes into one repository.Store.Atomic unit so a
//     reader never observes half of a chat or half of a token rotation.
//
// Services hold no per-user state. Every call re-reads membership from the
// store, so a user who leaves a chat loses access on their very next request.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/auth"
	"github.com/sakif/messenger/internal/metrics"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

// System user identity. The system user cannot sign in: its password hash is
// auth.UnusableHash, which no password verifies against.
const (
	SystemUserDisplayName = "Administration"
	systemChatMemberName  = "System"
)

var errSystemUserMissing = errors.New("system user does not exist; Bootstrap has not run")

// systemChatName names the personal inbox chat provisioned for userID.
func systemChatName(userID string) string {
	return "System for " + userID
}

// IdentityService handles users, credentials and the refresh-token lifecycle.
//
// DEPENDENCIES (injected via NewIdentityService):
//   - store      repository.Store        → users, system chats, refresh tokens
//   - tokens     *auth.TokenService      → sign/verify access and refresh JWTs
//   - passwords  *auth.PasswordService   → bcrypt hashing
//   - metrics    *metrics.Metrics        → sign-in and rotation counters (may be nil)
//   - logger     *slog.Logger            → structured logging
type IdentityService struct {
	store     repository.Store
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewIdentityService creates an IdentityService with all required dependencies.
func NewIdentityService(
	store repository.Store,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		metrics:   m,
		logger:    logger,
	}
}

// AuthResult is returned by sign-in and rotation.
// It bundles the user with a fresh access/refresh token pair so the handler
// can respond in one step.
type AuthResult struct {
	User         *model.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration // lifetime of AccessToken
}

// Bootstrap creates the system user if it does not exist yet.
// It is safe to call on every startup and from several processes at once:
// losing the insert race is the same as finding the user already there.
func (s *IdentityService) Bootstrap(ctx context.Context) error {
	err := s.store.CreateUser(ctx, &model.User{
		ID:           model.SystemUserID,
		DisplayName:  SystemUserDisplayName,
		PasswordHash: auth.UnusableHash,
	})
	switch {
	case err == nil:
		s.logger.Info("system user created", slog.String("userID", model.SystemUserID))
		return nil
	case errors.Is(err, apperror.ErrConflict):
		return nil
	default:
		return fmt.Errorf("service/identity: creating system user: %w", err)
	}
}

// Register creates a user and provisions their personal system chat.
//
// STEPS (one Atomic unit):
//  1. Insert the user; a duplicate id becomes UserAlreadyExists
//  2. Create "System for <userId>" with the system user as creator
//  3. Add the new user to it under the local name "System"
//
// If any step fails nothing is kept, so a user never exists without an inbox.
// Bootstrap must have run first: step 2 needs the system user.
func (s *IdentityService) Register(ctx context.Context, userID, displayName, password string) (*model.User, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return nil, err
	}
	displayName, err = validateName("displayName", displayName)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	// Hash outside the transaction: bcrypt is deliberately slow and the
	// sqlite backend has a single writer.
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/identity: hashing password: %w", err)
	}

	user := &model.User{ID: userID, DisplayName: displayName, PasswordHash: hash}
	var systemChat *model.Chat

	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				return apperror.UserAlreadyExists(userID)
			}
			return fmt.Errorf("creating user: %w", err)
		}

		admin, err := tx.GetUserByID(ctx, model.SystemUserID)
		if errors.Is(err, apperror.ErrNotFound) {
			// Not the caller's fault, so don't let it surface as a 404.
			return errSystemUserMissing
		}
		if err != nil {
			return fmt.Errorf("loading system user: %w", err)
		}

		systemChat, err = createChat(ctx, tx, systemChatName(userID), newChatSecret(), admin)
		if err != nil {
			return fmt.Errorf("creating system chat: %w", err)
		}

		err = tx.AddMember(ctx, &model.Member{
			ChatID:            systemChat.ID,
			UserID:            userID,
			ChatDisplayName:   systemChatMemberName,
			MemberDisplayName: displayName,
		})
		if err != nil {
			return fmt.Errorf("adding user to system chat: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("service/identity: registering %s: %w", userID, err)
	}

	s.metrics.ChatCreated()
	s.logger.Info("user registered",
		slog.String("userID", userID),
		slog.String("systemChatID", systemChat.ID),
	)
	return user, nil
}

// SignIn checks the password and issues a new session.
// Existing refresh tokens stay valid: a user may be signed in on several
// devices at once.
func (s *IdentityService) SignIn(ctx context.Context, userID, password string) (*AuthResult, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.metrics.SignIn(metrics.ResultRejected)
			return nil, apperror.UserNotFound(userID)
		}
		s.metrics.SignIn(metrics.ResultError)
		return nil, fmt.Errorf("service/identity: loading user %s: %w", userID, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("password verification failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		s.metrics.SignIn(metrics.ResultRejected)
		return nil, apperror.UserNotAuthorized()
	}

	result, err := s.issueSession(ctx, s.store, user)
	if err != nil {
		s.metrics.SignIn(metrics.ResultError)
		return nil, fmt.Errorf("service/identity: signing in %s: %w", userID, err)
	}

	s.metrics.SignIn(metrics.ResultOK)
	s.logger.Info("user signed in", slog.String("userID", userID))
	return result, nil
}

// issueSession persists a new refresh token for user and mints an access
// token to go with it. store may be transaction-scoped.
func (s *IdentityService) issueSession(ctx context.Context, store repository.TokenRepository, user *model.User) (*AuthResult, error) {
	refresh, err := s.tokens.GenerateRefresh(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}
	if err := store.CreateRefreshToken(ctx, &model.RefreshToken{Token: refresh, UserID: user.ID}); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}
	access, err := s.tokens.GenerateAccess(user.ID)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}
	return &AuthResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.tokens.AccessTTL(),
	}, nil
}

// SignOut revokes every refresh token the user holds, on every device.
// Access tokens already issued stay valid until they expire.
func (s *IdentityService) SignOut(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.DeleteRefreshTokensByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("service/identity: signing out %s: %w", userID, err)
	}
	s.logger.Info("user signed out",
		slog.String("userID", userID),
		slog.Int64("revokedTokens", n),
	)
	return n, nil
}

// RotateRefreshToken exchanges a refresh token for a new session.
//
// The presented token must be a valid, unexpired refresh JWT for userID AND
// still be on record for userID. Deleting it and storing its replacement
// happen in one Atomic unit; the delete is conditional, so when two
// rotations of the same token race exactly one wins and the other gets
// UserNotAuthorized.
func (s *IdentityService) RotateRefreshToken(ctx context.Context, userID, token string) (*AuthResult, error) {
	if err := s.checkRefreshToken(userID, token); err != nil {
		s.metrics.TokenRotation(metrics.ResultRejected)
		return nil, err
	}

	var result *AuthResult
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		if err := tx.DeleteRefreshToken(ctx, userID, token); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return apperror.UserNotAuthorized()
			}
			return fmt.Errorf("revoking presented token: %w", err)
		}

		user, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return apperror.UserNotAuthorized()
			}
			return fmt.Errorf("loading user: %w", err)
		}

		result, err = s.issueSession(ctx, tx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, apperror.ErrUserNotAuthorized) {
			s.metrics.TokenRotation(metrics.ResultRejected)
			s.logger.Warn("refresh token rejected", slog.String("userID", userID))
			return nil, err
		}
		s.metrics.TokenRotation(metrics.ResultError)
		return nil, fmt.Errorf("service/identity: rotating token for %s: %w", userID, err)
	}

	s.metrics.TokenRotation(metrics.ResultOK)
	s.logger.Info("refresh token rotated", slog.String("userID", userID))
	return result, nil
}

// InvalidateRefreshToken revokes one session without issuing a replacement.
// Tokens owned by another user are left untouched.
func (s *IdentityService) InvalidateRefreshToken(ctx context.Context, userID, token string) error {
	if err := s.checkRefreshToken(userID, token); err != nil {
		return err
	}
	if err := s.store.DeleteRefreshToken(ctx, userID, token); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.UserNotAuthorized()
		}
		return fmt.Errorf("service/identity: invalidating token for %s: %w", userID, err)
	}
	s.logger.Info("refresh token invalidated", slog.String("userID", userID))
	return nil
}

// checkRefreshToken verifies signature, kind, expiry and subject.
// Whether the token is still on record is checked by the caller's delete.
func (s *IdentityService) checkRefreshToken(userID, token string) error {
	subject, err := s.tokens.ValidateRefresh(token)
	if err != nil || subject != userID {
		return apperror.UserNotAuthorized()
	}
	return nil
}

// ResolveExpiredAccess returns the user id inside an access token that may
// have expired, as long as it expired less than one refresh lifetime ago.
// It is how the refresh endpoint learns who is asking.
func (s *IdentityService) ResolveExpiredAccess(token string) (string, error) {
	userID, err := s.tokens.ValidateExpiredAccess(token)
	if err != nil {
		return "", apperror.UserNotAuthorized()
	}
	return userID, nil
}

// GetUser looks a user up by id. It also satisfies auth.UserLookup, so the
// bearer-token middleware rejects tokens of users that no longer exist.
func (s *IdentityService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.UserNotFound(userID)
		}
		return nil, fmt.Errorf("service/identity: loading user %s: %w", userID, err)
	}
	return user, nil
}

// FindUsersByName lists users whose display name contains part, ignoring
// case. An empty part lists everyone.
func (s *IdentityService) FindUsersByName(ctx context.Context, part string) ([]model.User, error) {
	users, err := s.store.FindUsersByName(ctx, part)
	if err != nil {
		return nil, fmt.Errorf("service/identity: searching users: %w", err)
	}
	return users, nil
}

// SystemUser returns the bootstrapped system user.
func (s *IdentityService) SystemUser(ctx context.Context) (*model.User, error) {
	return s.GetUser(ctx, model.SystemUserID)
}
